package exporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	tlspkg "github.com/szibis/trace-forwarder/internal/tls"
	"golang.org/x/net/http2"
)

// Request is one POST to the ingest API. Body is already serialized and
// compressed.
type Request struct {
	URL    string
	Header http.Header
	Body   []byte
}

// Response carries the parts of an HTTP response the classifier needs.
type Response struct {
	StatusCode int
	Header     http.Header
}

// Transport performs a single request. Implementations must be safe for
// concurrent use and must honour ctx cancellation.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts. Zero means 100.
	MaxIdleConns int
	// MaxIdleConnsPerHost zero means 100; the ingest API is a single host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int
	// IdleConnTimeout zero means 60s, matching the ingest API's connection
	// lease.
	IdleConnTimeout   time.Duration
	DisableKeepAlives bool
	ForceAttemptHTTP2 bool
	// HTTP2ReadIdleTimeout enables ping health checks on idle HTTP/2
	// connections.
	HTTP2ReadIdleTimeout time.Duration
	HTTP2PingTimeout     time.Duration
}

// TransportConfig configures NewHTTPTransport.
type TransportConfig struct {
	HTTPClient HTTPClientConfig
	TLS        tlspkg.ClientConfig
	// Wrap decorates the round tripper, e.g. with instrumentation.
	Wrap func(http.RoundTripper) http.RoundTripper
}

// HTTPTransport posts requests with a pooled net/http client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a transport tuned for long-lived connections to a
// single ingest host.
func NewHTTPTransport(cfg TransportConfig) (*HTTPTransport, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.HTTPClient.MaxConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if tr.MaxIdleConns == 0 {
		tr.MaxIdleConns = 100
	}
	if tr.MaxIdleConnsPerHost == 0 {
		tr.MaxIdleConnsPerHost = 100
	}
	if tr.IdleConnTimeout == 0 {
		tr.IdleConnTimeout = 60 * time.Second
	}

	tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	tr.TLSClientConfig = tlsConfig

	if cfg.HTTPClient.ForceAttemptHTTP2 || cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
		h2, err := http2.ConfigureTransports(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
		}
		if cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
			h2.ReadIdleTimeout = cfg.HTTPClient.HTTP2ReadIdleTimeout
		}
		if cfg.HTTPClient.HTTP2PingTimeout > 0 {
			h2.PingTimeout = cfg.HTTPClient.HTTP2PingTimeout
		}
	}

	var rt http.RoundTripper = tr
	if cfg.Wrap != nil {
		rt = cfg.Wrap(rt)
	}

	// Per-attempt deadlines come from the context, not the client.
	return &HTTPTransport{client: &http.Client{Transport: rt}}, nil
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.ContentLength = int64(len(req.Body))
	httpReq.Header.Set("Content-Length", strconv.Itoa(len(req.Body)))

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() {
	t.client.CloseIdleConnections()
}
