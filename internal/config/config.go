// Package config resolves the forwarder configuration from defaults, an
// optional YAML file, the environment and command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/szibis/trace-forwarder/internal/auth"
	"github.com/szibis/trace-forwarder/internal/compression"
	"github.com/szibis/trace-forwarder/internal/exporter"
	"github.com/szibis/trace-forwarder/internal/receiver"
	"github.com/szibis/trace-forwarder/internal/telemetry"
	tlspkg "github.com/szibis/trace-forwarder/internal/tls"
	"github.com/szibis/trace-forwarder/internal/traceexporter"
)

// version is set at build time via ldflags.
var version = exporter.Version

// APIKeyEnv is consulted when no API key is configured.
const APIKeyEnv = "TRACE_FORWARDER_API_KEY"

// Config holds the application configuration.
type Config struct {
	ConfigFile string

	// Receiver settings. An empty address disables that receiver.
	GRPCListenAddr     string
	HTTPListenAddr     string
	HTTPReceiverPath   string
	GRPCMaxRecvMsgSize int

	ReceiverTLSEnabled    bool
	ReceiverTLSCertFile   string
	ReceiverTLSKeyFile    string
	ReceiverTLSCAFile     string
	ReceiverTLSClientAuth bool

	ReceiverAuthEnabled       bool
	ReceiverAuthBearerToken   string
	ReceiverAuthBasicUsername string
	ReceiverAuthBasicPassword string

	ReceiverMaxRequestBodySize      int64
	ReceiverMaxDecompressedBodySize int64
	ReceiverReadTimeout             time.Duration
	ReceiverReadHeaderTimeout       time.Duration
	ReceiverWriteTimeout            time.Duration
	ReceiverIdleTimeout             time.Duration

	// Ingest API settings
	APIKey           string
	IngestURL        string
	IngestTimeout    time.Duration
	MaxRetryAttempts int
	BackoffFactor    time.Duration
	BackoffMax       time.Duration
	AuditLogging     bool
	Compression      string
	CompressionLevel int
	SplitConcurrency int
	// IngestEndpoints lists extra URLs or hosts whose outbound spans are
	// dropped before submission.
	IngestEndpoints []string
	ServiceName     string

	IngestTLSEnabled            bool
	IngestTLSCertFile           string
	IngestTLSKeyFile            string
	IngestTLSCAFile             string
	IngestTLSInsecureSkipVerify bool
	IngestTLSServerName         string

	IngestMaxIdleConns         int
	IngestMaxIdleConnsPerHost  int
	IngestMaxConnsPerHost      int
	IngestIdleConnTimeout      time.Duration
	IngestDisableKeepAlives    bool
	IngestForceHTTP2           bool
	IngestHTTP2ReadIdleTimeout time.Duration
	IngestHTTP2PingTimeout     time.Duration

	// AdminAddr serves /metrics, /live and /ready.
	AdminAddr string

	// Self-monitoring export
	TelemetryEndpoint         string
	TelemetryProtocol         string
	TelemetryInsecure         bool
	TelemetryTimeout          time.Duration
	TelemetryPushInterval     time.Duration
	TelemetryCompression      string
	TelemetryHeaders          map[string]string
	TelemetryShutdownTimeout  time.Duration
	TelemetryRetryEnabled     bool
	TelemetryRetryInitial     time.Duration
	TelemetryRetryMaxInterval time.Duration
	TelemetryRetryMaxElapsed  time.Duration

	SelfTracingEnabled      bool
	SelfTracingSampleRatio  float64
	SelfTracingBatchTimeout time.Duration

	LogLevel         string
	MemoryLimitRatio float64
	ShutdownTimeout  time.Duration

	ShowHelp    bool
	ShowVersion bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		GRPCListenAddr:            ":4317",
		HTTPListenAddr:            ":4318",
		HTTPReceiverPath:          receiver.DefaultTracesPath,
		GRPCMaxRecvMsgSize:        64 * 1024 * 1024,
		ReceiverReadHeaderTimeout: 1 * time.Minute,
		ReceiverIdleTimeout:       1 * time.Minute,

		IngestURL:                 exporter.DefaultURL,
		IngestTimeout:             exporter.DefaultTimeout,
		MaxRetryAttempts:          exporter.DefaultMaxRetryAttempts,
		BackoffFactor:             exporter.DefaultBackoffFactor,
		BackoffMax:                exporter.DefaultBackoffMax,
		Compression:               string(compression.TypeGzip),
		IngestMaxIdleConns:        100,
		IngestMaxIdleConnsPerHost: 100,
		IngestIdleConnTimeout:     60 * time.Second,

		AdminAddr: ":9090",

		TelemetryProtocol:        string(telemetry.ProtocolGRPC),
		TelemetryInsecure:        true,
		TelemetryPushInterval:    30 * time.Second,
		TelemetryShutdownTimeout: 5 * time.Second,
		TelemetryRetryEnabled:    true,

		SelfTracingSampleRatio:  1,
		SelfTracingBatchTimeout: 5 * time.Second,

		LogLevel:         "info",
		MemoryLimitRatio: 0.9,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Load resolves the configuration: defaults, then the YAML file named by
// -config, then the API key environment fallback, then every flag that was
// explicitly set. The result is validated unless -help or -version was given.
func Load(args []string, getenv func(string) string) (*Config, error) {
	fs := flag.NewFlagSet("trace-forwarder", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	b := newBinder(fs)
	registerFlags(b)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			cfg := DefaultConfig()
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := DefaultConfig()
	if path := b.parsed.ConfigFile; path != "" {
		y, err := LoadYAML(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		y.applyTo(cfg)
		cfg.ConfigFile = path
	}
	if cfg.APIKey == "" && getenv != nil {
		cfg.APIKey = strings.TrimSpace(getenv(APIKeyEnv))
	}
	b.applyExplicit(cfg)

	if cfg.ShowHelp || cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReceiverTLSConfig returns the TLS configuration shared by both receivers.
func (c *Config) ReceiverTLSConfig() tlspkg.ServerConfig {
	return tlspkg.ServerConfig{
		Enabled:    c.ReceiverTLSEnabled,
		CertFile:   c.ReceiverTLSCertFile,
		KeyFile:    c.ReceiverTLSKeyFile,
		CAFile:     c.ReceiverTLSCAFile,
		ClientAuth: c.ReceiverTLSClientAuth,
	}
}

// ReceiverAuthConfig returns the authentication shared by both receivers.
func (c *Config) ReceiverAuthConfig() auth.ServerConfig {
	return auth.ServerConfig{
		Enabled:           c.ReceiverAuthEnabled,
		BearerToken:       c.ReceiverAuthBearerToken,
		BasicAuthUsername: c.ReceiverAuthBasicUsername,
		BasicAuthPassword: c.ReceiverAuthBasicPassword,
	}
}

// GRPCReceiverConfig returns the OTLP/gRPC receiver configuration.
func (c *Config) GRPCReceiverConfig() receiver.GRPCConfig {
	return receiver.GRPCConfig{
		Addr:           c.GRPCListenAddr,
		MaxRecvMsgSize: c.GRPCMaxRecvMsgSize,
		TLS:            c.ReceiverTLSConfig(),
		Auth:           c.ReceiverAuthConfig(),
	}
}

// HTTPReceiverConfig returns the OTLP/HTTP receiver configuration.
func (c *Config) HTTPReceiverConfig() receiver.HTTPConfig {
	return receiver.HTTPConfig{
		Addr: c.HTTPListenAddr,
		Path: c.HTTPReceiverPath,
		TLS:  c.ReceiverTLSConfig(),
		Auth: c.ReceiverAuthConfig(),
		Server: receiver.HTTPServerConfig{
			MaxRequestBodySize:      c.ReceiverMaxRequestBodySize,
			MaxDecompressedBodySize: c.ReceiverMaxDecompressedBodySize,
			ReadTimeout:             c.ReceiverReadTimeout,
			ReadHeaderTimeout:       c.ReceiverReadHeaderTimeout,
			WriteTimeout:            c.ReceiverWriteTimeout,
			IdleTimeout:             c.ReceiverIdleTimeout,
		},
	}
}

// SenderConfig returns the ingest submission configuration.
func (c *Config) SenderConfig() exporter.Config {
	return exporter.Config{
		APIKey:           c.APIKey,
		URL:              c.IngestURL,
		Timeout:          c.IngestTimeout,
		MaxRetryAttempts: c.MaxRetryAttempts,
		BackoffFactor:    c.BackoffFactor,
		BackoffMax:       c.BackoffMax,
		AuditLogging:     c.AuditLogging,
		Compression: compression.Config{
			Type:  compression.Type(strings.ToLower(strings.TrimSpace(c.Compression))),
			Level: compression.Level(c.CompressionLevel),
		},
		SplitConcurrency: c.SplitConcurrency,
		HTTPClient: exporter.HTTPClientConfig{
			MaxIdleConns:         c.IngestMaxIdleConns,
			MaxIdleConnsPerHost:  c.IngestMaxIdleConnsPerHost,
			MaxConnsPerHost:      c.IngestMaxConnsPerHost,
			IdleConnTimeout:      c.IngestIdleConnTimeout,
			DisableKeepAlives:    c.IngestDisableKeepAlives,
			ForceAttemptHTTP2:    c.IngestForceHTTP2,
			HTTP2ReadIdleTimeout: c.IngestHTTP2ReadIdleTimeout,
			HTTP2PingTimeout:     c.IngestHTTP2PingTimeout,
		},
		TLS: tlspkg.ClientConfig{
			Enabled:            c.IngestTLSEnabled,
			CertFile:           c.IngestTLSCertFile,
			KeyFile:            c.IngestTLSKeyFile,
			CAFile:             c.IngestTLSCAFile,
			InsecureSkipVerify: c.IngestTLSInsecureSkipVerify,
			ServerName:         c.IngestTLSServerName,
		},
	}
}

// ExporterConfig returns the span exporter configuration.
func (c *Config) ExporterConfig() traceexporter.Config {
	return traceexporter.Config{
		Sender:          c.SenderConfig(),
		ServiceName:     c.ServiceName,
		IngestEndpoints: c.IngestEndpoints,
	}
}

// TelemetryConfig returns the self-monitoring export configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        c.TelemetryEndpoint,
		Protocol:        telemetry.Protocol(c.TelemetryProtocol),
		Insecure:        c.TelemetryInsecure,
		Timeout:         c.TelemetryTimeout,
		PushInterval:    c.TelemetryPushInterval,
		Compression:     c.TelemetryCompression,
		Headers:         c.TelemetryHeaders,
		ShutdownTimeout: c.TelemetryShutdownTimeout,
		Retry: telemetry.RetryConfig{
			Enabled:     c.TelemetryRetryEnabled,
			Initial:     c.TelemetryRetryInitial,
			MaxInterval: c.TelemetryRetryMaxInterval,
			MaxElapsed:  c.TelemetryRetryMaxElapsed,
		},
	}
}

// SelfTracingConfig returns the self-tracing configuration.
func (c *Config) SelfTracingConfig() telemetry.SelfTracingConfig {
	return telemetry.SelfTracingConfig{
		SampleRatio:  c.SelfTracingSampleRatio,
		BatchTimeout: c.SelfTracingBatchTimeout,
	}
}

// PrintUsage writes the help message to w.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, `trace-forwarder - OTLP trace receiver forwarding spans to a trace ingest API

USAGE:
    trace-forwarder [OPTIONS]

DESCRIPTION:
    Receives spans via OTLP/gRPC and OTLP/HTTP, drops spans describing the
    forwarder's own calls to the ingest API, and submits the rest as
    gzip-compressed JSON with retries and payload splitting.

    The API key may also be supplied in the %s environment variable.
    Flags override values from the -config file.

OPTIONS:
`, APIKeyEnv)
	fs := flag.NewFlagSet("trace-forwarder", flag.ContinueOnError)
	registerFlags(newBinder(fs))
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// PrintVersion writes the version to w.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "trace-forwarder version %s\n", version)
}

// Version returns the build version.
func Version() string {
	return version
}
