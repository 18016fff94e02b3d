package receiver

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/szibis/trace-forwarder/internal/auth"
	"github.com/szibis/trace-forwarder/internal/logging"
	tlspkg "github.com/szibis/trace-forwarder/internal/tls"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
	"google.golang.org/grpc/status"
)

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor implements grpc encoding.Compressor for zstd with pooled
// encoders and decoders.
type zstdCompressor struct{}

var (
	zstdEncoders = sync.Pool{New: func() interface{} {
		e, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		return e
	}}
	zstdDecoders = sync.Pool{New: func() interface{} {
		d, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return d
	}}
)

func (zstdCompressor) Name() string { return "zstd" }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	e := zstdEncoders.Get().(*zstd.Encoder)
	e.Reset(w)
	return &pooledZstdWriter{Encoder: e}, nil
}

func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	d := zstdDecoders.Get().(*zstd.Decoder)
	if err := d.Reset(r); err != nil {
		zstdDecoders.Put(d)
		return nil, err
	}
	return &pooledZstdReader{Decoder: d}, nil
}

type pooledZstdWriter struct {
	*zstd.Encoder
}

func (p *pooledZstdWriter) Close() error {
	err := p.Encoder.Close()
	p.Encoder.Reset(nil)
	zstdEncoders.Put(p.Encoder)
	return err
}

// pooledZstdReader returns its decoder to the pool at EOF.
type pooledZstdReader struct {
	*zstd.Decoder
	done bool
}

func (p *pooledZstdReader) Read(b []byte) (int, error) {
	if p.done {
		return 0, io.EOF
	}
	n, err := p.Decoder.Read(b)
	if err == io.EOF {
		p.done = true
		_ = p.Decoder.Reset(nil)
		zstdDecoders.Put(p.Decoder)
	}
	return n, err
}

// GRPCConfig holds the OTLP/gRPC receiver configuration.
type GRPCConfig struct {
	Addr string
	// MaxRecvMsgSize zero means 64MiB.
	MaxRecvMsgSize int
	TLS            tlspkg.ServerConfig
	Auth           auth.ServerConfig
}

// GRPCReceiver receives traces via OTLP/gRPC.
type GRPCReceiver struct {
	coltracepb.UnimplementedTraceServiceServer
	server    *grpc.Server
	forwarder Forwarder
	addr      string
	log       *logging.Logger
}

// NewGRPC creates an OTLP/gRPC receiver.
func NewGRPC(cfg GRPCConfig, fwd Forwarder, log *logging.Logger) (*GRPCReceiver, error) {
	maxMsgSize := cfg.MaxRecvMsgSize
	if maxMsgSize == 0 {
		maxMsgSize = 64 * 1024 * 1024
	}
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.UnaryInterceptor(auth.GRPCServerInterceptor(cfg.Auth)),
	}

	tlsConfig, err := tlspkg.NewServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config for gRPC receiver: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	r := &GRPCReceiver{
		server:    grpc.NewServer(opts...),
		forwarder: fwd,
		addr:      cfg.Addr,
		log:       log,
	}
	coltracepb.RegisterTraceServiceServer(r.server, r)
	return r, nil
}

// Export implements the OTLP TraceService Export method.
func (r *GRPCReceiver) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	receiverRequestsTotal.WithLabelValues(protocolGRPC).Inc()
	receiverSpansTotal.WithLabelValues(protocolGRPC).Add(float64(countSpans(req)))

	if err := r.forwarder.ExportOTLP(ctx, req.GetResourceSpans()); err != nil {
		receiverErrorsTotal.WithLabelValues("forward").Inc()
		r.log.Warn("failed to forward received spans", logging.F("error", err.Error()))
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &coltracepb.ExportTraceServiceResponse{}, nil
}

// Start listens on the configured address and serves until Stop.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	return r.Serve(lis)
}

// Serve serves on lis until Stop.
func (r *GRPCReceiver) Serve(lis net.Listener) error {
	r.log.Info("gRPC receiver started", logging.F("addr", lis.Addr().String()))
	return r.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (r *GRPCReceiver) Stop() {
	r.server.GracefulStop()
}
