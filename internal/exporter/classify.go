package exporter

import "net/http"

// Disposition is what the sender does with an ingest API response.
type Disposition int

const (
	// DispositionSuccess means the payload was accepted.
	DispositionSuccess Disposition = iota
	// DispositionDropped means the payload is discarded without retry.
	DispositionDropped
	// DispositionSplit means the payload was too large and must be split.
	DispositionSplit
	// DispositionRetryBackoff retries after a client-computed backoff.
	DispositionRetryBackoff
	// DispositionRetryServer retries after the delay named by Retry-After.
	DispositionRetryServer
)

func (d Disposition) String() string {
	switch d {
	case DispositionSuccess:
		return "success"
	case DispositionDropped:
		return "dropped"
	case DispositionSplit:
		return "split"
	case DispositionRetryBackoff:
		return "retry_backoff"
	case DispositionRetryServer:
		return "retry_server"
	default:
		return "unknown"
	}
}

// Classify maps an HTTP status code to a disposition. It is total: codes
// with no explicit rule are dropped.
func Classify(statusCode int) Disposition {
	switch {
	case statusCode >= 200 && statusCode <= 299:
		return DispositionSuccess
	case statusCode == http.StatusRequestTimeout:
		return DispositionRetryBackoff
	case statusCode == http.StatusRequestEntityTooLarge:
		return DispositionSplit
	case statusCode == http.StatusTooManyRequests:
		return DispositionRetryServer
	default:
		return DispositionDropped
	}
}

// isExpectedRejection reports whether a dropped status is one of the
// documented non-retryable client errors rather than an unexpected code.
func isExpectedRejection(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusLengthRequired:
		return true
	}
	return false
}

// statusClass is a low-cardinality metric label for a status code.
func statusClass(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	default:
		return "other"
	}
}
