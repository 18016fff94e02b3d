package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/szibis/trace-forwarder/internal/compression"
	"github.com/szibis/trace-forwarder/internal/logging"
	tlspkg "github.com/szibis/trace-forwarder/internal/tls"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultURL is the trace ingest endpoint.
	DefaultURL = "https://trace-api.newrelic.com/trace/v1"
	// DefaultMaxRetryAttempts is the retry ceiling when none is configured.
	DefaultMaxRetryAttempts = 8
	// DefaultBackoffFactor is the first retry delay.
	DefaultBackoffFactor = 5 * time.Second
	// DefaultBackoffMax caps the exponential backoff.
	DefaultBackoffMax = 80 * time.Second
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// Version is reported in the User-Agent header.
	Version = "0.1.0"

	userAgentBase = "trace-forwarder/" + Version
	contentType   = "application/json; charset=utf-8"
)

// Config holds the sender configuration. It is read-only after New.
type Config struct {
	// APIKey is sent in the Api-Key header. Required.
	APIKey string
	// URL is the ingest endpoint. Empty means DefaultURL.
	URL string
	// Timeout bounds each individual request. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRetryAttempts is the number of retries after the first request.
	// Zero means DefaultMaxRetryAttempts; negative disables retries.
	MaxRetryAttempts int
	// BackoffFactor and BackoffMax shape the exponential backoff.
	BackoffFactor time.Duration
	BackoffMax    time.Duration
	// AuditLogging logs every uncompressed payload at debug level.
	AuditLogging bool
	// Compression of the request body. Empty type means gzip.
	Compression compression.Config
	// SplitConcurrency limits how many partitions of a split batch are in
	// flight at once. Zero means no limit.
	SplitConcurrency int
	HTTPClient       HTTPClientConfig
	TLS              tlspkg.ClientConfig
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	} else if c.MaxRetryAttempts < 0 {
		c.MaxRetryAttempts = 0
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Compression.Type == "" {
		c.Compression.Type = compression.TypeGzip
	}
	return c
}

type options struct {
	transport Transport
	delay     Delayer
	now       func() time.Time
	logger    *logging.Logger
	wrap      func(http.RoundTripper) http.RoundTripper
}

// Option customizes a Sender.
type Option func(*options)

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithDelayer replaces the retry wait, mainly for tests.
func WithDelayer(d Delayer) Option {
	return func(o *options) { o.delay = d }
}

// WithClock sets the time source used to resolve Retry-After dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRoundTripper wraps the default HTTP transport's round tripper.
// Ignored when WithTransport is also given.
func WithRoundTripper(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(o *options) { o.wrap = wrap }
}

// Sender delivers batches of type B to the ingest API, retrying and
// splitting as the responses direct.
type Sender[B Batch[B]] struct {
	cfg       Config
	transport Transport
	closer    func()
	delay     Delayer
	now       func() time.Time
	log       *logging.Logger
	userAgent atomic.Pointer[string]
}

// New validates cfg and builds a Sender. It makes no network calls.
func New[B Batch[B]](cfg Config, opts ...Option) (*Sender[B], error) {
	o := options{
		delay:  TimerDelay,
		now:    time.Now,
		logger: logging.Default().With("exporter"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		err := &ConfigError{Field: "api_key", Err: ErrMissingAPIKey}
		o.logger.Exception("exporter configuration rejected", err)
		return nil, err
	}
	if _, err := compression.ParseType(string(cfg.Compression.Type)); cfg.Compression.Type != "" && err != nil {
		return nil, &ConfigError{Field: "compression", Err: err}
	}
	cfg = cfg.withDefaults()

	s := &Sender[B]{
		cfg:       cfg,
		transport: o.transport,
		closer:    func() {},
		delay:     o.delay,
		now:       o.now,
		log:       o.logger,
	}
	if s.transport == nil {
		ht, err := NewHTTPTransport(TransportConfig{
			HTTPClient: cfg.HTTPClient,
			TLS:        cfg.TLS,
			Wrap:       o.wrap,
		})
		if err != nil {
			return nil, &ConfigError{Field: "transport", Err: err}
		}
		s.transport = ht
		s.closer = ht.Close
	}
	ua := userAgentBase
	s.userAgent.Store(&ua)
	return s, nil
}

// AddVersionInfo appends "product/version" to the User-Agent of all
// subsequent requests.
func (s *Sender[B]) AddVersionInfo(product, version string) {
	if product == "" {
		return
	}
	ua := userAgentBase + " " + product + "/" + version
	s.userAgent.Store(&ua)
}

// UserAgent returns the current User-Agent header value.
func (s *Sender[B]) UserAgent() string {
	return *s.userAgent.Load()
}

// Close releases transport resources.
func (s *Sender[B]) Close() {
	s.closer()
}

// Send delivers batch and reports the outcome.
func (s *Sender[B]) Send(ctx context.Context, batch B) Outcome {
	outcome, _ := s.Submit(ctx, batch)
	return outcome
}

// Submit is Send with the failure cause. The error is non-nil exactly when
// the outcome is OutcomeFailed, and wraps a *SendError (several, joined,
// when partitions of a split batch failed).
func (s *Sender[B]) Submit(ctx context.Context, batch B) (Outcome, error) {
	outcome, err := s.submit(ctx, batch)
	ingestOutcomesTotal.WithLabelValues(outcome.String()).Inc()
	return outcome, err
}

func (s *Sender[B]) submit(ctx context.Context, batch B) (Outcome, error) {
	if batch.IsEmpty() {
		return OutcomeNoData, nil
	}

	payload, err := batch.MarshalJSON()
	if err != nil {
		s.log.Exception("failed to serialize batch", err)
		return OutcomeFailed, &SendError{Err: fmt.Errorf("failed to serialize batch: %w", err), Disposition: DispositionDropped}
	}
	body, err := compression.Compress(payload, s.cfg.Compression)
	if err != nil {
		s.log.Exception("failed to compress batch", err)
		return OutcomeFailed, &SendError{Err: fmt.Errorf("failed to compress batch: %w", err), Disposition: DispositionDropped}
	}
	ingestPayloadBytesTotal.WithLabelValues("raw").Add(float64(len(payload)))
	ingestPayloadBytesTotal.WithLabelValues("compressed").Add(float64(len(body)))

	req := &Request{URL: s.cfg.URL, Header: s.headers(), Body: body}

	var (
		retries  int
		requests int
	)
	for {
		requests++
		if s.cfg.AuditLogging {
			s.log.Debug("sending payload", logging.F("attempt", requests, "payload", string(payload)))
		}

		resp, err := s.do(ctx, req)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.abandoned(ctxErr, requests)
		}

		var (
			disp       Disposition
			statusCode int
		)
		if err != nil {
			disp = DispositionRetryBackoff
			s.log.Warn("request to ingest API failed", logging.F("error", err.Error(), "attempt", requests))
		} else {
			statusCode = resp.StatusCode
			disp = Classify(statusCode)
		}

		switch disp {
		case DispositionSuccess:
			s.log.Debug("response from ingest API", logging.F("status_code", statusCode))
			return OutcomeSent, nil

		case DispositionDropped:
			if isExpectedRejection(statusCode) {
				s.log.Error("ingest API rejected payload", logging.F("status_code", statusCode))
			} else {
				s.log.Error("unexpected response from ingest API", logging.F("status_code", statusCode))
			}
			return OutcomeFailed, &SendError{Disposition: disp, StatusCode: statusCode, Attempts: requests}

		case DispositionSplit:
			s.log.Warn("response indicates payload is too large", logging.F("status_code", statusCode))
			return s.splitAndSend(ctx, batch, requests)
		}

		// DispositionRetryBackoff or DispositionRetryServer.
		if statusCode != 0 {
			s.log.Warn("response from ingest API", logging.F("status_code", statusCode))
		}
		retries++
		if retries > s.cfg.MaxRetryAttempts {
			ingestRetryExhaustedTotal.Inc()
			s.log.Error(fmt.Sprintf("send failed after %d retries", s.cfg.MaxRetryAttempts),
				logging.F("status_code", statusCode, "attempts", requests))
			return OutcomeFailed, &SendError{Err: err, Disposition: disp, StatusCode: statusCode, Attempts: requests}
		}

		wait, reason := s.retryDelay(disp, retries, resp, err)
		ingestRetriesTotal.WithLabelValues(reason).Inc()
		ingestRetryWaitSeconds.Observe(wait.Seconds())
		s.log.Warn(fmt.Sprintf("attempting retry(%d) after %s", retries, wait),
			logging.F("reason", reason, "wait_ms", wait.Milliseconds()))

		if err := s.delay(ctx, wait); err != nil {
			return s.abandoned(err, requests)
		}
	}
}

// retryDelay picks the wait before retry number retries and a metric label
// describing where it came from.
func (s *Sender[B]) retryDelay(disp Disposition, retries int, resp *Response, reqErr error) (time.Duration, string) {
	backoff := Backoff(retries, s.cfg.BackoffFactor, s.cfg.BackoffMax)
	switch {
	case reqErr != nil:
		return backoff, "transport_error"
	case disp == DispositionRetryServer:
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), s.now()); ok {
			return d, "retry_after"
		}
		return backoff, "retry_after_missing"
	default:
		return backoff, "timeout"
	}
}

func (s *Sender[B]) abandoned(err error, requests int) (Outcome, error) {
	s.log.Debug("submission abandoned", logging.F("error", err.Error(), "attempts", requests))
	return OutcomeFailed, &SendError{Err: err, Disposition: DispositionDropped, Attempts: requests}
}

// splitAndSend resubmits each partition of batch through the full pipeline
// concurrently. The result is Sent only when every partition is Sent.
func (s *Sender[B]) splitAndSend(ctx context.Context, batch B, requests int) (Outcome, error) {
	parts := batch.Split()
	if len(parts) < 2 {
		ingestUnsplittableTotal.Inc()
		s.log.Error("cannot send data because it exceeds the size limit and cannot be split")
		return OutcomeFailed, &SendError{
			Disposition: DispositionSplit,
			StatusCode:  http.StatusRequestEntityTooLarge,
			Attempts:    requests,
		}
	}

	ingestSplitsTotal.Inc()
	s.log.Warn("splitting the data and retrying", logging.F("partitions", len(parts)))

	outcomes := make([]Outcome, len(parts))
	errs := make([]error, len(parts))
	var g errgroup.Group
	if s.cfg.SplitConcurrency > 0 {
		g.SetLimit(s.cfg.SplitConcurrency)
	}
	for i, part := range parts {
		g.Go(func() error {
			outcomes[i], errs[i] = s.submit(ctx, part)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o != OutcomeSent {
			err := errors.Join(errs...)
			if err == nil {
				err = &SendError{Disposition: DispositionSplit, StatusCode: http.StatusRequestEntityTooLarge, Attempts: requests}
			}
			return OutcomeFailed, err
		}
	}
	return OutcomeSent, nil
}

func (s *Sender[B]) headers() http.Header {
	h := make(http.Header, 4)
	h.Set("Content-Type", contentType)
	if enc := s.cfg.Compression.Type.ContentEncoding(); enc != "" {
		h.Set("Content-Encoding", enc)
	}
	h.Set("User-Agent", s.UserAgent())
	h.Set("Api-Key", s.cfg.APIKey)
	return h
}

// do performs one request bounded by the per-request timeout.
func (s *Sender[B]) do(ctx context.Context, req *Request) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.transport.Do(reqCtx, req)
	ingestRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		ingestRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	ingestRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return resp, nil
}
