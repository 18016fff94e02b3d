package config

import (
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"
)

// binder registers flags against a scratch Config and remembers how to copy
// each flag's value into another Config, so that only flags set on the
// command line override the file.
type binder struct {
	fs     *flag.FlagSet
	parsed *Config
	apply  map[string]func(dst *Config)
}

func newBinder(fs *flag.FlagSet) *binder {
	return &binder{fs: fs, parsed: DefaultConfig(), apply: make(map[string]func(*Config))}
}

func bind[T any](b *binder, define func(*T, string, T, string), name string, sel func(*Config) *T, usage string) {
	p := sel(b.parsed)
	define(p, name, *p, usage)
	b.apply[name] = func(dst *Config) { *sel(dst) = *sel(b.parsed) }
}

func (b *binder) str(name string, sel func(*Config) *string, usage string) {
	bind(b, b.fs.StringVar, name, sel, usage)
}

func (b *binder) boolean(name string, sel func(*Config) *bool, usage string) {
	bind(b, b.fs.BoolVar, name, sel, usage)
}

func (b *binder) integer(name string, sel func(*Config) *int, usage string) {
	bind(b, b.fs.IntVar, name, sel, usage)
}

func (b *binder) int64(name string, sel func(*Config) *int64, usage string) {
	bind(b, b.fs.Int64Var, name, sel, usage)
}

func (b *binder) float(name string, sel func(*Config) *float64, usage string) {
	bind(b, b.fs.Float64Var, name, sel, usage)
}

func (b *binder) duration(name string, sel func(*Config) *time.Duration, usage string) {
	bind(b, b.fs.DurationVar, name, sel, usage)
}

func (b *binder) list(name string, sel func(*Config) *[]string, usage string) {
	b.fs.Var((*stringList)(sel(b.parsed)), name, usage)
	b.apply[name] = func(dst *Config) { *sel(dst) = append([]string(nil), *sel(b.parsed)...) }
}

func (b *binder) headers(name string, sel func(*Config) *map[string]string, usage string) {
	b.fs.Var((*headerMap)(sel(b.parsed)), name, usage)
	b.apply[name] = func(dst *Config) { *sel(dst) = *sel(b.parsed) }
}

// applyExplicit copies every flag set on the command line into cfg.
func (b *binder) applyExplicit(cfg *Config) {
	b.fs.Visit(func(f *flag.Flag) {
		if apply, ok := b.apply[f.Name]; ok {
			apply(cfg)
		}
	})
}

// stringList is a comma separated flag value. Repeating the flag appends.
type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// headerMap is a key1=value1,key2=value2 flag value.
type headerMap map[string]string

func (h *headerMap) String() string {
	if h == nil || len(*h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(*h))
	for k := range *h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+(*h)[k])
	}
	return strings.Join(pairs, ",")
}

func (h *headerMap) Set(s string) error {
	m := make(map[string]string)
	for k, v := range *h {
		m[k] = v
	}
	for _, pair := range strings.Split(s, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid header %q, want key=value", pair)
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	*h = m
	return nil
}

func registerFlags(b *binder) {
	b.str("config", func(c *Config) *string { return &c.ConfigFile }, "Path to YAML configuration file; flags override its values")

	// Receivers
	b.str("grpc-listen", func(c *Config) *string { return &c.GRPCListenAddr }, "OTLP/gRPC receiver listen address (empty disables)")
	b.str("http-listen", func(c *Config) *string { return &c.HTTPListenAddr }, "OTLP/HTTP receiver listen address (empty disables)")
	b.str("http-receiver-path", func(c *Config) *string { return &c.HTTPReceiverPath }, "OTLP/HTTP traces path")
	b.integer("grpc-max-recv-msg-size", func(c *Config) *int { return &c.GRPCMaxRecvMsgSize }, "Maximum gRPC message size in bytes")
	b.int64("receiver-max-body-size", func(c *Config) *int64 { return &c.ReceiverMaxRequestBodySize }, "Maximum OTLP/HTTP request body size in bytes (0 = unlimited)")
	b.int64("receiver-max-decompressed-body-size", func(c *Config) *int64 { return &c.ReceiverMaxDecompressedBodySize }, "Maximum decompressed OTLP/HTTP body size in bytes (0 = 64MiB, negative = unlimited)")
	b.duration("receiver-read-timeout", func(c *Config) *time.Duration { return &c.ReceiverReadTimeout }, "OTLP/HTTP server read timeout (0 = none)")
	b.duration("receiver-read-header-timeout", func(c *Config) *time.Duration { return &c.ReceiverReadHeaderTimeout }, "OTLP/HTTP server read header timeout")
	b.duration("receiver-write-timeout", func(c *Config) *time.Duration { return &c.ReceiverWriteTimeout }, "OTLP/HTTP server write timeout (0 = none)")
	b.duration("receiver-idle-timeout", func(c *Config) *time.Duration { return &c.ReceiverIdleTimeout }, "OTLP/HTTP server idle timeout")

	b.boolean("receiver-tls-enabled", func(c *Config) *bool { return &c.ReceiverTLSEnabled }, "Enable TLS for receivers")
	b.str("receiver-tls-cert", func(c *Config) *string { return &c.ReceiverTLSCertFile }, "Path to receiver TLS certificate file")
	b.str("receiver-tls-key", func(c *Config) *string { return &c.ReceiverTLSKeyFile }, "Path to receiver TLS private key file")
	b.str("receiver-tls-ca", func(c *Config) *string { return &c.ReceiverTLSCAFile }, "Path to CA certificate for client verification (mTLS)")
	b.boolean("receiver-tls-client-auth", func(c *Config) *bool { return &c.ReceiverTLSClientAuth }, "Require client certificates (mTLS)")

	b.boolean("receiver-auth-enabled", func(c *Config) *bool { return &c.ReceiverAuthEnabled }, "Enable authentication for receivers")
	b.str("receiver-auth-bearer-token", func(c *Config) *string { return &c.ReceiverAuthBearerToken }, "Bearer token for receiver authentication")
	b.str("receiver-auth-basic-username", func(c *Config) *string { return &c.ReceiverAuthBasicUsername }, "Basic auth username for receivers")
	b.str("receiver-auth-basic-password", func(c *Config) *string { return &c.ReceiverAuthBasicPassword }, "Basic auth password for receivers")

	// Ingest API
	b.str("api-key", func(c *Config) *string { return &c.APIKey }, "Ingest API key (or "+APIKeyEnv+")")
	b.str("ingest-url", func(c *Config) *string { return &c.IngestURL }, "Trace ingest API URL")
	b.duration("ingest-timeout", func(c *Config) *time.Duration { return &c.IngestTimeout }, "Per-request timeout for ingest calls")
	b.integer("max-retries", func(c *Config) *int { return &c.MaxRetryAttempts }, "Retries after the first attempt (-1 disables)")
	b.duration("backoff-factor", func(c *Config) *time.Duration { return &c.BackoffFactor }, "Exponential backoff factor")
	b.duration("backoff-max", func(c *Config) *time.Duration { return &c.BackoffMax }, "Maximum backoff between retries")
	b.boolean("audit-logging", func(c *Config) *bool { return &c.AuditLogging }, "Log every uncompressed payload at debug level")
	b.str("compression", func(c *Config) *string { return &c.Compression }, "Payload compression: gzip, zstd, deflate, zlib, snappy or none")
	b.integer("compression-level", func(c *Config) *int { return &c.CompressionLevel }, "Compression level (0 = algorithm default)")
	b.integer("split-concurrency", func(c *Config) *int { return &c.SplitConcurrency }, "Maximum concurrent partitions of a split payload (0 = unlimited)")
	b.list("ingest-endpoints", func(c *Config) *[]string { return &c.IngestEndpoints }, "Extra comma separated URLs or hosts whose outbound spans are dropped")
	b.str("service-name", func(c *Config) *string { return &c.ServiceName }, "Service name stamped on every span (empty keeps the resource's)")

	b.boolean("ingest-tls-enabled", func(c *Config) *bool { return &c.IngestTLSEnabled }, "Enable custom TLS config for ingest calls")
	b.str("ingest-tls-cert", func(c *Config) *string { return &c.IngestTLSCertFile }, "Path to client certificate file (mTLS)")
	b.str("ingest-tls-key", func(c *Config) *string { return &c.IngestTLSKeyFile }, "Path to client private key file (mTLS)")
	b.str("ingest-tls-ca", func(c *Config) *string { return &c.IngestTLSCAFile }, "Path to CA certificate for server verification")
	b.boolean("ingest-tls-skip-verify", func(c *Config) *bool { return &c.IngestTLSInsecureSkipVerify }, "Skip TLS certificate verification")
	b.str("ingest-tls-server-name", func(c *Config) *string { return &c.IngestTLSServerName }, "Override server name for TLS verification")

	b.integer("ingest-max-idle-conns", func(c *Config) *int { return &c.IngestMaxIdleConns }, "Maximum idle connections")
	b.integer("ingest-max-idle-conns-per-host", func(c *Config) *int { return &c.IngestMaxIdleConnsPerHost }, "Maximum idle connections per host")
	b.integer("ingest-max-conns-per-host", func(c *Config) *int { return &c.IngestMaxConnsPerHost }, "Maximum connections per host (0 = unlimited)")
	b.duration("ingest-idle-conn-timeout", func(c *Config) *time.Duration { return &c.IngestIdleConnTimeout }, "Idle connection timeout")
	b.boolean("ingest-disable-keep-alives", func(c *Config) *bool { return &c.IngestDisableKeepAlives }, "Disable HTTP keep-alives")
	b.boolean("ingest-force-http2", func(c *Config) *bool { return &c.IngestForceHTTP2 }, "Force HTTP/2 for ingest calls")
	b.duration("ingest-http2-read-idle-timeout", func(c *Config) *time.Duration { return &c.IngestHTTP2ReadIdleTimeout }, "HTTP/2 ping interval on idle connections (0 = disabled)")
	b.duration("ingest-http2-ping-timeout", func(c *Config) *time.Duration { return &c.IngestHTTP2PingTimeout }, "HTTP/2 ping timeout")

	b.str("admin-listen", func(c *Config) *string { return &c.AdminAddr }, "Listen address for /metrics, /live and /ready (empty disables)")

	// Telemetry
	b.str("telemetry-endpoint", func(c *Config) *string { return &c.TelemetryEndpoint }, "OTLP endpoint for self-monitoring logs and metrics (empty disables)")
	b.str("telemetry-protocol", func(c *Config) *string { return &c.TelemetryProtocol }, "Telemetry protocol: grpc or http")
	b.boolean("telemetry-insecure", func(c *Config) *bool { return &c.TelemetryInsecure }, "Use an insecure telemetry connection")
	b.duration("telemetry-timeout", func(c *Config) *time.Duration { return &c.TelemetryTimeout }, "Telemetry per-export timeout (0 = SDK default)")
	b.duration("telemetry-push-interval", func(c *Config) *time.Duration { return &c.TelemetryPushInterval }, "Telemetry metric push interval")
	b.str("telemetry-compression", func(c *Config) *string { return &c.TelemetryCompression }, "Telemetry compression: gzip or empty")
	b.headers("telemetry-headers", func(c *Config) *map[string]string { return &c.TelemetryHeaders }, "Telemetry headers (key1=value1,key2=value2)")
	b.duration("telemetry-shutdown-timeout", func(c *Config) *time.Duration { return &c.TelemetryShutdownTimeout }, "Telemetry shutdown grace period")
	b.boolean("telemetry-retry-enabled", func(c *Config) *bool { return &c.TelemetryRetryEnabled }, "Retry failed telemetry exports")
	b.duration("telemetry-retry-initial", func(c *Config) *time.Duration { return &c.TelemetryRetryInitial }, "Telemetry initial retry interval")
	b.duration("telemetry-retry-max-interval", func(c *Config) *time.Duration { return &c.TelemetryRetryMaxInterval }, "Telemetry maximum retry interval")
	b.duration("telemetry-retry-max-elapsed", func(c *Config) *time.Duration { return &c.TelemetryRetryMaxElapsed }, "Telemetry maximum total retry time")

	b.boolean("self-tracing", func(c *Config) *bool { return &c.SelfTracingEnabled }, "Trace the forwarder's own ingest calls into the same pipeline")
	b.float("self-tracing-sample-ratio", func(c *Config) *float64 { return &c.SelfTracingSampleRatio }, "Self-tracing sample ratio (0-1)")
	b.duration("self-tracing-batch-timeout", func(c *Config) *time.Duration { return &c.SelfTracingBatchTimeout }, "Maximum delay before self-traced spans are exported")

	b.str("log-level", func(c *Config) *string { return &c.LogLevel }, "Log level: debug, info, warn or error")
	b.float("memory-limit-ratio", func(c *Config) *float64 { return &c.MemoryLimitRatio }, "Fraction of the container memory limit used for GOMEMLIMIT")
	b.duration("shutdown-timeout", func(c *Config) *time.Duration { return &c.ShutdownTimeout }, "Graceful shutdown timeout")

	b.boolean("help", func(c *Config) *bool { return &c.ShowHelp }, "Show help")
	b.boolean("version", func(c *Config) *bool { return &c.ShowVersion }, "Show version")
}
