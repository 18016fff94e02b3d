package telemetry

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SelfTracer traces the forwarder's own outbound calls and hands the
// resulting spans to a span exporter attached after construction, which
// lets the exporter's client be instrumented by the provider it feeds.
type SelfTracer struct {
	provider *sdktrace.TracerProvider
}

// SelfTracingConfig tunes the batch processor feeding the attached exporter.
type SelfTracingConfig struct {
	// SampleRatio zero or above one samples everything.
	SampleRatio  float64
	BatchTimeout time.Duration
	MaxBatchSize int
}

// NewSelfTracer creates a tracer provider with no processors attached.
func NewSelfTracer(cfg SelfTracingConfig, res *resource.Resource) *SelfTracer {
	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}
	return &SelfTracer{provider: sdktrace.NewTracerProvider(opts...)}
}

// Attach batches finished spans into exp. Spans are exported asynchronously,
// so an exporter that is itself traced never blocks on its own spans.
func (s *SelfTracer) Attach(exp sdktrace.SpanExporter, cfg SelfTracingConfig) {
	var opts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		opts = append(opts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	if cfg.MaxBatchSize > 0 {
		opts = append(opts, sdktrace.WithMaxExportBatchSize(cfg.MaxBatchSize))
	}
	s.provider.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exp, opts...))
}

// WrapTransport instruments an HTTP client transport so each request
// produces a client span.
func (s *SelfTracer) WrapTransport(next http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(next, otelhttp.WithTracerProvider(s.provider))
}

// ForceFlush exports all finished spans.
func (s *SelfTracer) ForceFlush(ctx context.Context) error {
	return s.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider and every attached exporter.
func (s *SelfTracer) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}
