package receiver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/szibis/trace-forwarder/internal/auth"
	"github.com/szibis/trace-forwarder/internal/compression"
	"github.com/szibis/trace-forwarder/internal/logging"
	tlspkg "github.com/szibis/trace-forwarder/internal/tls"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultTracesPath is the OTLP/HTTP traces path.
	DefaultTracesPath = "/v1/traces"

	// DefaultMaxDecompressedBodySize bounds a decoded request body, matching
	// the gRPC receiver's default message size.
	DefaultMaxDecompressedBodySize = 64 * 1024 * 1024

	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"
)

// HTTPServerConfig holds HTTP server settings.
type HTTPServerConfig struct {
	// MaxRequestBodySize limits the size of the (compressed) request body.
	// Zero means no limit.
	MaxRequestBodySize int64
	// MaxDecompressedBodySize limits the body after Content-Encoding is
	// removed. Zero means DefaultMaxDecompressedBodySize; negative means no
	// limit.
	MaxDecompressedBodySize int64
	ReadTimeout             time.Duration
	// ReadHeaderTimeout zero means 1m.
	ReadHeaderTimeout time.Duration
	// WriteTimeout zero means no timeout. Forwarding can retry for minutes,
	// so keep it above the sender's retry budget when set.
	WriteTimeout time.Duration
	// IdleTimeout zero means 1m.
	IdleTimeout time.Duration
}

// HTTPConfig holds the OTLP/HTTP receiver configuration.
type HTTPConfig struct {
	Addr string
	// Path defaults to DefaultTracesPath.
	Path   string
	TLS    tlspkg.ServerConfig
	Auth   auth.ServerConfig
	Server HTTPServerConfig
}

// HTTPReceiver receives traces via OTLP/HTTP, protobuf or JSON encoded.
type HTTPReceiver struct {
	server    *http.Server
	forwarder Forwarder
	addr      string
	tlsConfig *tls.Config
	maxBody   int64
	maxDecode int64
	log       *logging.Logger
}

// NewHTTP creates an OTLP/HTTP receiver.
func NewHTTP(cfg HTTPConfig, fwd Forwarder, log *logging.Logger) (*HTTPReceiver, error) {
	r := &HTTPReceiver{
		forwarder: fwd,
		addr:      cfg.Addr,
		maxBody:   cfg.Server.MaxRequestBodySize,
		maxDecode: cfg.Server.MaxDecompressedBodySize,
		log:       log,
	}
	if r.maxDecode == 0 {
		r.maxDecode = DefaultMaxDecompressedBodySize
	}

	tlsConfig, err := tlspkg.NewServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config for HTTP receiver: %w", err)
	}
	r.tlsConfig = tlsConfig

	path := cfg.Path
	if path == "" {
		path = DefaultTracesPath
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, r.handleTraces)

	readHeaderTimeout := cfg.Server.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 1 * time.Minute
	}
	idleTimeout := cfg.Server.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 1 * time.Minute
	}

	r.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           auth.HTTPMiddleware(cfg.Auth, mux),
		TLSConfig:         r.tlsConfig,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       idleTimeout,
	}
	return r, nil
}

// Handler returns the receiver's HTTP handler, including authentication.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

func (r *HTTPReceiver) handleTraces(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues(protocolHTTP).Inc()

	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || (mediaType != contentTypeProtobuf && mediaType != contentTypeJSON) {
		receiverErrorsTotal.WithLabelValues("decode").Inc()
		http.Error(w, "Unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	var body io.Reader = req.Body
	if r.maxBody > 0 {
		body = http.MaxBytesReader(w, req.Body, r.maxBody)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		receiverErrorsTotal.WithLabelValues("read").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if enc := req.Header.Get("Content-Encoding"); enc != "" {
		t := compression.ParseContentEncoding(enc)
		if t == compression.TypeNone && !strings.EqualFold(enc, "identity") {
			receiverErrorsTotal.WithLabelValues("decompress").Inc()
			http.Error(w, "Unsupported content encoding", http.StatusUnsupportedMediaType)
			return
		}
		raw, err = compression.DecompressLimit(raw, t, r.maxDecode)
		if errors.Is(err, compression.ErrTooLarge) {
			receiverErrorsTotal.WithLabelValues("decompress").Inc()
			http.Error(w, "Decompressed body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			receiverErrorsTotal.WithLabelValues("decompress").Inc()
			r.log.Error("failed to decompress OTLP request body", logging.F(
				"encoding", enc,
				"error", err.Error(),
			))
			http.Error(w, "Failed to decompress body", http.StatusBadRequest)
			return
		}
	}

	var exportReq coltracepb.ExportTraceServiceRequest
	if mediaType == contentTypeJSON {
		err = protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(raw, &exportReq)
	} else {
		err = proto.Unmarshal(raw, &exportReq)
	}
	if err != nil {
		receiverErrorsTotal.WithLabelValues("decode").Inc()
		r.log.Error("failed to unmarshal OTLP request", logging.F("error", err.Error()))
		http.Error(w, "Failed to unmarshal request", http.StatusBadRequest)
		return
	}
	receiverSpansTotal.WithLabelValues(protocolHTTP).Add(float64(countSpans(&exportReq)))

	if err := r.forwarder.ExportOTLP(req.Context(), exportReq.GetResourceSpans()); err != nil {
		receiverErrorsTotal.WithLabelValues("forward").Inc()
		r.log.Warn("failed to forward received spans", logging.F("error", err.Error()))
		http.Error(w, "Failed to forward spans", http.StatusServiceUnavailable)
		return
	}

	resp := &coltracepb.ExportTraceServiceResponse{}
	var out []byte
	if mediaType == contentTypeJSON {
		out, err = protojson.Marshal(resp)
	} else {
		out, err = proto.Marshal(resp)
	}
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// Start listens on the configured address and serves until Stop.
func (r *HTTPReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	return r.Serve(lis)
}

// Serve serves on lis until Stop. It returns nil after a graceful stop.
func (r *HTTPReceiver) Serve(lis net.Listener) error {
	r.log.Info("HTTP receiver started", logging.F(
		"addr", lis.Addr().String(),
		"tls", r.tlsConfig != nil,
	))
	var err error
	if r.tlsConfig != nil {
		err = r.server.ServeTLS(lis, "", "")
	} else {
		err = r.server.Serve(lis)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server.
func (r *HTTPReceiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
