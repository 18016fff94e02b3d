package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	ServiceName     string   `yaml:"service_name"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Ingest      IngestYAMLConfig      `yaml:"ingest"`
	Receiver    ReceiverYAMLConfig    `yaml:"receiver"`
	Admin       AdminYAMLConfig       `yaml:"admin"`
	Telemetry   TelemetryYAMLConfig   `yaml:"telemetry"`
	SelfTracing SelfTracingYAMLConfig `yaml:"self_tracing"`
	Memory      MemoryYAMLConfig      `yaml:"memory"`
}

// IngestYAMLConfig holds the ingest API client configuration.
type IngestYAMLConfig struct {
	APIKey  string   `yaml:"api_key"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
	// MaxRetryAttempts -1 disables retries.
	MaxRetryAttempts *int                  `yaml:"max_retry_attempts"`
	BackoffFactor    Duration              `yaml:"backoff_factor"`
	BackoffMax       Duration              `yaml:"backoff_max"`
	AuditLogging     bool                  `yaml:"audit_logging"`
	SplitConcurrency int                   `yaml:"split_concurrency"`
	Endpoints        []string              `yaml:"endpoints"`
	Compression      CompressionYAMLConfig `yaml:"compression"`
	TLS              TLSClientYAMLConfig   `yaml:"tls"`
	HTTPClient       HTTPClientYAMLConfig  `yaml:"http_client"`
}

// CompressionYAMLConfig holds payload compression settings.
type CompressionYAMLConfig struct {
	Type  string `yaml:"type"`
	Level int    `yaml:"level"`
}

// TLSClientYAMLConfig holds TLS client configuration.
type TLSClientYAMLConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

// HTTPClientYAMLConfig holds HTTP client connection pool settings.
type HTTPClientYAMLConfig struct {
	MaxIdleConns         int      `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost  int      `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost      int      `yaml:"max_conns_per_host"`
	IdleConnTimeout      Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives    bool     `yaml:"disable_keep_alives"`
	ForceHTTP2           bool     `yaml:"force_http2"`
	HTTP2ReadIdleTimeout Duration `yaml:"http2_read_idle_timeout"`
	HTTP2PingTimeout     Duration `yaml:"http2_ping_timeout"`
}

// ReceiverYAMLConfig holds receiver configuration.
type ReceiverYAMLConfig struct {
	GRPC GRPCReceiverYAMLConfig `yaml:"grpc"`
	HTTP HTTPReceiverYAMLConfig `yaml:"http"`
	TLS  TLSServerYAMLConfig    `yaml:"tls"`
	Auth AuthServerYAMLConfig   `yaml:"auth"`
}

// GRPCReceiverYAMLConfig holds gRPC receiver settings. An empty address
// disables the receiver.
type GRPCReceiverYAMLConfig struct {
	Address        *string  `yaml:"address"`
	MaxRecvMsgSize ByteSize `yaml:"max_recv_msg_size"`
}

// HTTPReceiverYAMLConfig holds HTTP receiver settings.
type HTTPReceiverYAMLConfig struct {
	Address *string              `yaml:"address"`
	Path    string               `yaml:"path"`
	Server  HTTPServerYAMLConfig `yaml:"server"`
}

// HTTPServerYAMLConfig holds HTTP server timeout settings.
type HTTPServerYAMLConfig struct {
	MaxRequestBodySize      ByteSize `yaml:"max_request_body_size"`
	MaxDecompressedBodySize ByteSize `yaml:"max_decompressed_body_size"`
	ReadTimeout             Duration `yaml:"read_timeout"`
	ReadHeaderTimeout       Duration `yaml:"read_header_timeout"`
	WriteTimeout            Duration `yaml:"write_timeout"`
	IdleTimeout             Duration `yaml:"idle_timeout"`
}

// TLSServerYAMLConfig holds TLS server configuration.
type TLSServerYAMLConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ClientAuth bool   `yaml:"client_auth"`
}

// AuthServerYAMLConfig holds server authentication configuration.
type AuthServerYAMLConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BearerToken   string `yaml:"bearer_token"`
	BasicUsername string `yaml:"basic_username"`
	BasicPassword string `yaml:"basic_password"`
}

// AdminYAMLConfig holds the metrics and health server settings.
type AdminYAMLConfig struct {
	Address *string `yaml:"address"`
}

// TelemetryYAMLConfig holds OTLP self-monitoring telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint        string                   `yaml:"endpoint"`
	Protocol        string                   `yaml:"protocol"`
	Insecure        *bool                    `yaml:"insecure"`
	Timeout         Duration                 `yaml:"timeout"`
	PushInterval    Duration                 `yaml:"push_interval"`
	Compression     string                   `yaml:"compression"`
	ShutdownTimeout Duration                 `yaml:"shutdown_timeout"`
	Headers         map[string]string        `yaml:"headers"`
	Retry           TelemetryRetryYAMLConfig `yaml:"retry"`
}

// TelemetryRetryYAMLConfig holds telemetry retry configuration.
type TelemetryRetryYAMLConfig struct {
	Enabled     *bool    `yaml:"enabled"`
	Initial     Duration `yaml:"initial"`
	MaxInterval Duration `yaml:"max_interval"`
	MaxElapsed  Duration `yaml:"max_elapsed"`
}

// SelfTracingYAMLConfig holds self-tracing settings.
type SelfTracingYAMLConfig struct {
	Enabled      bool     `yaml:"enabled"`
	SampleRatio  *float64 `yaml:"sample_ratio"`
	BatchTimeout Duration `yaml:"batch_timeout"`
}

// MemoryYAMLConfig holds memory limit configuration.
type MemoryYAMLConfig struct {
	// LimitRatio is the ratio of container memory to use for GOMEMLIMIT (0.0-1.0).
	LimitRatio float64 `yaml:"limit_ratio"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is a wrapper for int64 that supports human-readable YAML values.
// Accepted formats: raw integer (bytes), or suffixed: Ki, Mi, Gi.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses a byte size such as "512Ki", "4Mi" or "1.5Gi".
// Plain integers are bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for _, sf := range []struct {
		name string
		mult int64
	}{
		{"Gi", 1 << 30},
		{"Mi", 1 << 20},
		{"Ki", 1 << 10},
	} {
		if num, ok := strings.CutSuffix(s, sf.name); ok {
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(num), "%g", &f); err != nil || f < 0 {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi or Gi suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes. Unknown keys are errors.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	y := &YAMLConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(y); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return y, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyTo overlays every value present in the file onto cfg.
func (y *YAMLConfig) applyTo(cfg *Config) {
	setString(&cfg.ServiceName, y.ServiceName)
	setString(&cfg.LogLevel, y.LogLevel)
	setDuration(&cfg.ShutdownTimeout, y.ShutdownTimeout)

	in := y.Ingest
	setString(&cfg.APIKey, strings.TrimSpace(in.APIKey))
	setString(&cfg.IngestURL, in.URL)
	setDuration(&cfg.IngestTimeout, in.Timeout)
	if in.MaxRetryAttempts != nil {
		cfg.MaxRetryAttempts = *in.MaxRetryAttempts
	}
	setDuration(&cfg.BackoffFactor, in.BackoffFactor)
	setDuration(&cfg.BackoffMax, in.BackoffMax)
	cfg.AuditLogging = cfg.AuditLogging || in.AuditLogging
	setInt(&cfg.SplitConcurrency, in.SplitConcurrency)
	if len(in.Endpoints) > 0 {
		cfg.IngestEndpoints = append([]string(nil), in.Endpoints...)
	}
	setString(&cfg.Compression, in.Compression.Type)
	setInt(&cfg.CompressionLevel, in.Compression.Level)

	cfg.IngestTLSEnabled = in.TLS.Enabled
	setString(&cfg.IngestTLSCertFile, in.TLS.CertFile)
	setString(&cfg.IngestTLSKeyFile, in.TLS.KeyFile)
	setString(&cfg.IngestTLSCAFile, in.TLS.CAFile)
	cfg.IngestTLSInsecureSkipVerify = in.TLS.InsecureSkipVerify
	setString(&cfg.IngestTLSServerName, in.TLS.ServerName)

	hc := in.HTTPClient
	setInt(&cfg.IngestMaxIdleConns, hc.MaxIdleConns)
	setInt(&cfg.IngestMaxIdleConnsPerHost, hc.MaxIdleConnsPerHost)
	setInt(&cfg.IngestMaxConnsPerHost, hc.MaxConnsPerHost)
	setDuration(&cfg.IngestIdleConnTimeout, hc.IdleConnTimeout)
	cfg.IngestDisableKeepAlives = hc.DisableKeepAlives
	cfg.IngestForceHTTP2 = hc.ForceHTTP2
	setDuration(&cfg.IngestHTTP2ReadIdleTimeout, hc.HTTP2ReadIdleTimeout)
	setDuration(&cfg.IngestHTTP2PingTimeout, hc.HTTP2PingTimeout)

	rc := y.Receiver
	if rc.GRPC.Address != nil {
		cfg.GRPCListenAddr = *rc.GRPC.Address
	}
	if rc.GRPC.MaxRecvMsgSize != 0 {
		cfg.GRPCMaxRecvMsgSize = int(rc.GRPC.MaxRecvMsgSize)
	}
	if rc.HTTP.Address != nil {
		cfg.HTTPListenAddr = *rc.HTTP.Address
	}
	setString(&cfg.HTTPReceiverPath, rc.HTTP.Path)
	if rc.HTTP.Server.MaxRequestBodySize != 0 {
		cfg.ReceiverMaxRequestBodySize = int64(rc.HTTP.Server.MaxRequestBodySize)
	}
	if rc.HTTP.Server.MaxDecompressedBodySize != 0 {
		cfg.ReceiverMaxDecompressedBodySize = int64(rc.HTTP.Server.MaxDecompressedBodySize)
	}
	setDuration(&cfg.ReceiverReadTimeout, rc.HTTP.Server.ReadTimeout)
	setDuration(&cfg.ReceiverReadHeaderTimeout, rc.HTTP.Server.ReadHeaderTimeout)
	setDuration(&cfg.ReceiverWriteTimeout, rc.HTTP.Server.WriteTimeout)
	setDuration(&cfg.ReceiverIdleTimeout, rc.HTTP.Server.IdleTimeout)

	cfg.ReceiverTLSEnabled = rc.TLS.Enabled
	setString(&cfg.ReceiverTLSCertFile, rc.TLS.CertFile)
	setString(&cfg.ReceiverTLSKeyFile, rc.TLS.KeyFile)
	setString(&cfg.ReceiverTLSCAFile, rc.TLS.CAFile)
	cfg.ReceiverTLSClientAuth = rc.TLS.ClientAuth

	cfg.ReceiverAuthEnabled = rc.Auth.Enabled
	setString(&cfg.ReceiverAuthBearerToken, rc.Auth.BearerToken)
	setString(&cfg.ReceiverAuthBasicUsername, rc.Auth.BasicUsername)
	setString(&cfg.ReceiverAuthBasicPassword, rc.Auth.BasicPassword)

	if y.Admin.Address != nil {
		cfg.AdminAddr = *y.Admin.Address
	}

	tc := y.Telemetry
	setString(&cfg.TelemetryEndpoint, tc.Endpoint)
	setString(&cfg.TelemetryProtocol, tc.Protocol)
	if tc.Insecure != nil {
		cfg.TelemetryInsecure = *tc.Insecure
	}
	setDuration(&cfg.TelemetryTimeout, tc.Timeout)
	setDuration(&cfg.TelemetryPushInterval, tc.PushInterval)
	setString(&cfg.TelemetryCompression, tc.Compression)
	setDuration(&cfg.TelemetryShutdownTimeout, tc.ShutdownTimeout)
	if len(tc.Headers) > 0 {
		cfg.TelemetryHeaders = tc.Headers
	}
	if tc.Retry.Enabled != nil {
		cfg.TelemetryRetryEnabled = *tc.Retry.Enabled
	}
	setDuration(&cfg.TelemetryRetryInitial, tc.Retry.Initial)
	setDuration(&cfg.TelemetryRetryMaxInterval, tc.Retry.MaxInterval)
	setDuration(&cfg.TelemetryRetryMaxElapsed, tc.Retry.MaxElapsed)

	cfg.SelfTracingEnabled = y.SelfTracing.Enabled
	if y.SelfTracing.SampleRatio != nil {
		cfg.SelfTracingSampleRatio = *y.SelfTracing.SampleRatio
	}
	setDuration(&cfg.SelfTracingBatchTimeout, y.SelfTracing.BatchTimeout)

	if y.Memory.LimitRatio != 0 {
		cfg.MemoryLimitRatio = y.Memory.LimitRatio
	}
}
