package exporter

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("configuration requires an API key")

// ConfigError reports an invalid sender configuration. It is returned before
// any network activity takes place.
type ConfigError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid exporter config %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SendError describes a submission that ended in OutcomeFailed. It carries
// the last status code seen and how it was handled.
type SendError struct {
	// Err is the underlying cause, if any (transport error, cancellation).
	Err error
	// Disposition is how the last response was classified.
	Disposition Disposition
	// StatusCode is the last HTTP status (0 when no response was received).
	StatusCode int
	// Attempts is the number of requests made for the batch, excluding
	// requests made for split partitions.
	Attempts int
}

// Error implements the error interface.
func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("send failed after %d attempt(s): disposition=%s status=%d", e.Attempts, e.Disposition, e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SendError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure came from a transient condition
// (retry ceiling exhausted, transport error) rather than a rejection.
func (e *SendError) IsRetryable() bool {
	switch e.Disposition {
	case DispositionRetryBackoff, DispositionRetryServer:
		return true
	default:
		return false
	}
}
