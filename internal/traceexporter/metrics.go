package traceexporter

import "github.com/prometheus/client_golang/prometheus"

var (
	spansTranslatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_spans_translated_total",
		Help: "Spans translated to the ingest model by source",
	}, []string{"source"})

	// spansFilteredTotal counts spans removed as calls to the ingest API
	// ("direct") or descendants of such calls ("descendant").
	spansFilteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_spans_filtered_total",
		Help: "Spans removed by the self-reference filter",
	}, []string{"reason"})

	spansInvalidTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_spans_invalid_total",
		Help: "Span records skipped because they could not be translated",
	}, []string{"source"})

	exportBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_export_batches_total",
		Help: "Span export calls by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(spansTranslatedTotal)
	prometheus.MustRegister(spansFilteredTotal)
	prometheus.MustRegister(spansInvalidTotal)
	prometheus.MustRegister(exportBatchesTotal)
}
