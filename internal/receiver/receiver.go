// Package receiver accepts OTLP trace exports over HTTP and gRPC and hands
// them to a Forwarder.
package receiver

import (
	"context"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http"
)

// Forwarder consumes received spans. A non-nil error tells the client the
// data was not delivered and may be retried.
type Forwarder interface {
	ExportOTLP(ctx context.Context, rs []*tracepb.ResourceSpans) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, rs []*tracepb.ResourceSpans) error

// ExportOTLP implements Forwarder.
func (f ForwarderFunc) ExportOTLP(ctx context.Context, rs []*tracepb.ResourceSpans) error {
	return f(ctx, rs)
}
