package exporter

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff returns the client-computed wait before retry number attempt
// (1-based): factor * 2^(attempt-1), capped at ceiling. There is no jitter.
func Backoff(attempt int, factor, ceiling time.Duration) time.Duration {
	if attempt <= 0 || factor <= 0 {
		return 0
	}
	delay := factor
	for i := 1; i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}

// maxRetryAfter is the longest server-directed wait; larger delay-seconds
// values saturate to it.
const maxRetryAfter = time.Duration(math.MaxInt64)

// parseRetryAfter reads a Retry-After header value, either delay-seconds or
// an HTTP-date. A date in the past yields a non-positive delay. ok is false
// when the header is absent, negative or malformed.
func parseRetryAfter(value string, now time.Time) (delay time.Duration, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		if secs > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter, true
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	// Sub saturates, so far-future dates cannot wrap.
	return at.Sub(now), true
}

// Delayer suspends the calling goroutine for d or until ctx is done.
// A non-positive d returns immediately unless ctx is already done.
type Delayer func(ctx context.Context, d time.Duration) error

// TimerDelay is the default Delayer.
func TimerDelay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
