// Package traceexporter forwards OpenTelemetry spans to the trace ingest API.
package traceexporter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/szibis/trace-forwarder/internal/exporter"
	"github.com/szibis/trace-forwarder/internal/logging"
	"github.com/szibis/trace-forwarder/internal/spans"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// ErrShutdown is returned by exports attempted after Shutdown.
var ErrShutdown = errors.New("trace exporter is shut down")

const productName = "opentelemetry-go"

// Config configures an Exporter.
type Config struct {
	Sender exporter.Config
	// ServiceName is stamped on every span. Empty keeps each span's
	// resource service.name.
	ServiceName string
	// IngestEndpoints are URLs or hostnames whose outbound calls are
	// filtered. The sender URL is always included.
	IngestEndpoints []string
}

type settings struct {
	log        *logging.Logger
	senderOpts []exporter.Option
}

// Option customizes an Exporter.
type Option func(*settings)

// WithLogger sets the logger for both translation and submission.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithSenderOptions passes options through to the underlying sender.
func WithSenderOptions(opts ...exporter.Option) Option {
	return func(s *settings) { s.senderOpts = append(s.senderOpts, opts...) }
}

// Exporter implements sdktrace.SpanExporter on top of an exporter.Sender.
type Exporter struct {
	sender     *exporter.Sender[*spans.Batch]
	translator *Translator
	log        *logging.Logger
	stopped    atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// New builds an Exporter. It fails when the sender configuration is invalid.
func New(cfg Config, opts ...Option) (*Exporter, error) {
	st := settings{log: logging.Default().With("traceexporter")}
	for _, opt := range opts {
		opt(&st)
	}

	senderOpts := append([]exporter.Option{exporter.WithLogger(st.log)}, st.senderOpts...)
	sender, err := exporter.New[*spans.Batch](cfg.Sender, senderOpts...)
	if err != nil {
		return nil, err
	}
	sender.AddVersionInfo(productName, otel.Version())

	url := cfg.Sender.URL
	if url == "" {
		url = exporter.DefaultURL
	}
	matcher := NewEndpointMatcher(append([]string{url}, cfg.IngestEndpoints...)...)

	return &Exporter{
		sender:     sender,
		translator: NewTranslator(cfg.ServiceName, matcher, st.log),
		log:        st.log,
	}, nil
}

// ExportSpans translates, filters and submits spans. A batch that is empty
// after filtering succeeds without a request.
func (e *Exporter) ExportSpans(ctx context.Context, ss []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() {
		return ErrShutdown
	}
	return e.Forward(ctx, e.translator.FromSDK(ss))
}

// ExportOTLP is ExportSpans for spans received over OTLP.
func (e *Exporter) ExportOTLP(ctx context.Context, rs []*tracepb.ResourceSpans) error {
	if e.stopped.Load() {
		return ErrShutdown
	}
	return e.Forward(ctx, e.translator.FromOTLP(rs))
}

// Forward submits an already translated batch.
func (e *Exporter) Forward(ctx context.Context, batch *spans.Batch) error {
	if batch.IsEmpty() {
		exportBatchesTotal.WithLabelValues("empty").Inc()
		return nil
	}
	outcome, err := e.sender.Submit(ctx, batch)
	switch outcome {
	case exporter.OutcomeSent, exporter.OutcomeNoData:
		exportBatchesTotal.WithLabelValues("success").Inc()
		return nil
	default:
		exportBatchesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to export %d spans: %w", batch.Len(), err)
	}
}

// Ready reports whether the exporter accepts spans.
func (e *Exporter) Ready() bool {
	return !e.stopped.Load()
}

// Shutdown stops accepting spans and releases idle connections. It is safe
// to call more than once.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.stopped.Swap(true) {
		return nil
	}
	e.sender.Close()
	e.log.Info("trace exporter stopped")
	return ctx.Err()
}
