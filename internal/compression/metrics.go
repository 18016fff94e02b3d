package compression

import "github.com/prometheus/client_golang/prometheus"

var (
	poolGets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_forwarder_compression_pool_gets_total",
		Help: "gzip writers reused from the pool",
	})
	poolMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_forwarder_compression_pool_misses_total",
		Help: "gzip writers allocated because the pool was empty",
	})
	bytesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_compression_input_bytes_total",
		Help: "Uncompressed bytes fed to the encoder",
	}, []string{"type"})
	bytesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_forwarder_compression_output_bytes_total",
		Help: "Compressed bytes produced by the encoder",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(poolGets, poolMisses, bytesIn, bytesOut)
}

func recordRatio(t Type, in, out int) {
	bytesIn.WithLabelValues(string(t)).Add(float64(in))
	bytesOut.WithLabelValues(string(t)).Add(float64(out))
}
