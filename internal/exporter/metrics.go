package exporter

import "github.com/prometheus/client_golang/prometheus"

var (
	// ingestRequestsTotal counts POSTs to the ingest API by response class.
	// Requests that never got a response are counted as "error".
	ingestRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_requests_total",
		Help: "Requests made to the ingest API by status class",
	}, []string{"status_class"})

	ingestOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_outcomes_total",
		Help: "Batch submissions by final outcome",
	}, []string{"outcome"})

	ingestRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_retries_total",
		Help: "Retries scheduled by reason",
	}, []string{"reason"})

	ingestRetryExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_retry_exhausted_total",
		Help: "Submissions that gave up after the maximum number of retries",
	})

	ingestSplitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_splits_total",
		Help: "Batches split after a payload-too-large response",
	})

	ingestUnsplittableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_unsplittable_total",
		Help: "Payload-too-large batches that could not be split further",
	})

	// ingestPayloadBytesTotal tracks serialized bytes before ("raw") and
	// after ("compressed") encoding.
	ingestPayloadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_ingest_payload_bytes_total",
		Help: "Payload bytes per request by stage",
	}, []string{"stage"})

	ingestRetryWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trace_forwarder_ingest_retry_wait_seconds",
		Help:    "Delay applied before each retry",
		Buckets: []float64{0, 1, 5, 10, 20, 40, 80, 160},
	})

	ingestRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trace_forwarder_ingest_request_duration_seconds",
		Help:    "Latency of individual ingest API requests",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ingestRequestsTotal)
	prometheus.MustRegister(ingestOutcomesTotal)
	prometheus.MustRegister(ingestRetriesTotal)
	prometheus.MustRegister(ingestRetryExhaustedTotal)
	prometheus.MustRegister(ingestSplitsTotal)
	prometheus.MustRegister(ingestUnsplittableTotal)
	prometheus.MustRegister(ingestPayloadBytesTotal)
	prometheus.MustRegister(ingestRetryWaitSeconds)
	prometheus.MustRegister(ingestRequestDuration)
}
