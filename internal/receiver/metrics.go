package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
)

var (
	receiverErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_receiver_errors_total",
		Help: "Total number of receiver errors",
	}, []string{"type"})

	receiverRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_receiver_requests_total",
		Help: "Total number of requests received",
	}, []string{"protocol"})

	receiverSpansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_receiver_spans_total",
		Help: "Total number of spans received",
	}, []string{"protocol"})
)

func init() {
	prometheus.MustRegister(receiverErrorsTotal)
	prometheus.MustRegister(receiverRequestsTotal)
	prometheus.MustRegister(receiverSpansTotal)

	// Initialize counters with 0 so they appear in /metrics immediately
	for _, t := range []string{"decode", "decompress", "read", "forward"} {
		receiverErrorsTotal.WithLabelValues(t).Add(0)
	}
	for _, p := range []string{protocolGRPC, protocolHTTP} {
		receiverRequestsTotal.WithLabelValues(p).Add(0)
		receiverSpansTotal.WithLabelValues(p).Add(0)
	}
}

func countSpans(req *coltracepb.ExportTraceServiceRequest) int {
	n := 0
	for _, rs := range req.GetResourceSpans() {
		for _, ss := range rs.GetScopeSpans() {
			n += len(ss.GetSpans())
		}
	}
	return n
}
