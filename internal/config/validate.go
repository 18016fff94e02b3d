package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/szibis/trace-forwarder/internal/compression"
	"github.com/szibis/trace-forwarder/internal/telemetry"
)

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	// SeverityError indicates a configuration error that prevents startup.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates a potential issue that won't prevent startup.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	Field    string             `json:"field"`
	Message  string             `json:"message"`
}

func (i ValidationIssue) Error() string {
	return i.Field + ": " + i.Message
}

// ValidationResult holds the complete validation output.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// JSON returns the validation result as formatted JSON.
func (r *ValidationResult) JSON() string {
	data, _ := json.MarshalIndent(r, "", "  ")
	return string(data)
}

// Validate returns every configuration error joined, or nil.
func (c *Config) Validate() error {
	var errs []error
	for _, issue := range c.issues() {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errors.Join(errs...)
}

// Warnings returns the non-fatal findings for cfg.
func (c *Config) Warnings() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range c.issues() {
		if issue.Severity == SeverityWarning {
			out = append(out, issue)
		}
	}
	return out
}

// ValidateFile loads a YAML config file on top of the defaults and the
// environment API key, and reports every finding.
func ValidateFile(path string, getenv func(string) string) *ValidationResult {
	result := &ValidationResult{Valid: true, File: path}

	info, err := os.Stat(path)
	if err != nil {
		return result.fail("file", fmt.Sprintf("cannot access file: %v", err))
	}
	if info.IsDir() {
		return result.fail("file", "path is a directory")
	}
	y, err := LoadYAML(path)
	if err != nil {
		return result.fail("yaml", err.Error())
	}

	cfg := DefaultConfig()
	y.applyTo(cfg)
	if cfg.APIKey == "" && getenv != nil {
		cfg.APIKey = strings.TrimSpace(getenv(APIKeyEnv))
	}
	for _, issue := range cfg.issues() {
		if issue.Severity == SeverityError {
			result.Valid = false
		}
		result.Issues = append(result.Issues, issue)
	}
	return result
}

func (r *ValidationResult) fail(field, msg string) *ValidationResult {
	r.Valid = false
	r.Issues = append(r.Issues, ValidationIssue{Severity: SeverityError, Field: field, Message: msg})
	return r
}

func (c *Config) issues() []ValidationIssue {
	var out []ValidationIssue
	errorf := func(field, format string, args ...interface{}) {
		out = append(out, ValidationIssue{Severity: SeverityError, Field: field, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(field, format string, args ...interface{}) {
		out = append(out, ValidationIssue{Severity: SeverityWarning, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.APIKey) == "" {
		errorf("api-key", "an ingest API key is required (flag, config file or %s)", APIKeyEnv)
	}
	if u, err := url.Parse(c.IngestURL); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		errorf("ingest-url", "%q is not an absolute http(s) URL", c.IngestURL)
	} else if u.Scheme == "http" {
		warnf("ingest-url", "API key is sent over plain HTTP")
	}
	if c.IngestTimeout <= 0 {
		errorf("ingest-timeout", "must be positive, got %s", c.IngestTimeout)
	}
	if c.BackoffFactor <= 0 {
		errorf("backoff-factor", "must be positive, got %s", c.BackoffFactor)
	}
	if c.BackoffMax < c.BackoffFactor {
		errorf("backoff-max", "%s is below backoff-factor %s", c.BackoffMax, c.BackoffFactor)
	}
	if _, err := compression.ParseType(c.Compression); err != nil {
		errorf("compression", "%v", err)
	}
	if c.SplitConcurrency < 0 {
		errorf("split-concurrency", "must not be negative, got %d", c.SplitConcurrency)
	}
	if c.AuditLogging {
		warnf("audit-logging", "every payload is logged at debug level")
	}
	if c.IngestTLSInsecureSkipVerify {
		warnf("ingest-tls-skip-verify", "ingest API certificate is not verified")
	}
	if (c.IngestTLSCertFile == "") != (c.IngestTLSKeyFile == "") {
		errorf("ingest-tls-cert", "client certificate and key must be set together")
	}

	if c.GRPCListenAddr == "" && c.HTTPListenAddr == "" && !c.SelfTracingEnabled {
		errorf("receiver", "no receiver is enabled and self-tracing is off")
	}
	if c.HTTPListenAddr != "" && !strings.HasPrefix(c.HTTPReceiverPath, "/") {
		errorf("http-receiver-path", "%q must start with /", c.HTTPReceiverPath)
	}
	if c.GRPCMaxRecvMsgSize < 0 {
		errorf("grpc-max-recv-msg-size", "must not be negative")
	}
	if c.ReceiverTLSEnabled && (c.ReceiverTLSCertFile == "" || c.ReceiverTLSKeyFile == "") {
		errorf("receiver-tls-cert", "receiver TLS requires a certificate and key")
	}
	if c.ReceiverTLSClientAuth && c.ReceiverTLSCAFile == "" {
		errorf("receiver-tls-ca", "client certificate verification requires a CA file")
	}
	if c.ReceiverAuthEnabled && c.ReceiverAuthBearerToken == "" && c.ReceiverAuthBasicUsername == "" {
		errorf("receiver-auth-enabled", "receiver auth requires a bearer token or basic auth username")
	}

	switch telemetry.Protocol(c.TelemetryProtocol) {
	case telemetry.ProtocolGRPC, telemetry.ProtocolHTTP:
	default:
		errorf("telemetry-protocol", "unknown protocol %q, want grpc or http", c.TelemetryProtocol)
	}
	if c.TelemetryCompression != "" && c.TelemetryCompression != "gzip" {
		errorf("telemetry-compression", "unknown compression %q, want gzip or empty", c.TelemetryCompression)
	}

	if c.SelfTracingSampleRatio < 0 || c.SelfTracingSampleRatio > 1 {
		errorf("self-tracing-sample-ratio", "must be between 0 and 1, got %g", c.SelfTracingSampleRatio)
	}
	if c.MemoryLimitRatio <= 0 || c.MemoryLimitRatio > 1 {
		errorf("memory-limit-ratio", "must be in (0, 1], got %g", c.MemoryLimitRatio)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errorf("log-level", "unknown level %q", c.LogLevel)
	}
	if c.ShutdownTimeout <= 0 {
		errorf("shutdown-timeout", "must be positive, got %s", c.ShutdownTimeout)
	}
	return out
}
