// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 2 * time.Second

var readyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "trace_forwarder_ready",
	Help: "Readiness of each registered component (1 = up) as of the last probe",
}, []string{"component"})

func init() {
	prometheus.MustRegister(readyGauge)
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil if the component is ready. It must honour ctx.
type CheckFunc func(ctx context.Context) error

// Checker provides liveness and readiness probes. Readiness checks run
// concurrently, each bounded by the check timeout.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]CheckFunc
	timeout      time.Duration
	shuttingDown atomic.Bool
}

// New creates a Checker. A zero timeout means DefaultCheckTimeout.
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
	}
}

// RegisterReadiness registers a named readiness check, replacing any
// check of the same name.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetShuttingDown marks the instance as shutting down. After this both
// probes return 503.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// Handler serves /live and /ready.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", c.LiveHandler())
	mux.HandleFunc("/ready", c.ReadyHandler())
	return mux
}

// LiveHandler reports whether the process is running and not shutting down.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, shuttingDownResponse())
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: now()})
	}
}

// ReadyHandler runs all registered checks; if any fail the response is 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, shuttingDownResponse())
			return
		}

		components := c.Check(r.Context())
		overall := StatusUp
		for _, cc := range components {
			if cc.Status == StatusDown {
				overall = StatusDown
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Status: overall, Components: components, Timestamp: now()})
	}
}

// Check runs every readiness check and returns the per-component result.
func (c *Checker) Check(ctx context.Context) map[string]ComponentCheck {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]ComponentCheck, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			cc := ComponentCheck{Status: StatusUp}
			if err := check(cctx); err != nil {
				cc = ComponentCheck{Status: StatusDown, Message: err.Error()}
			}

			gauge := 0.0
			if cc.Status == StatusUp {
				gauge = 1
			}
			readyGauge.WithLabelValues(name).Set(gauge)

			mu.Lock()
			results[name] = cc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func shuttingDownResponse() Response {
	return Response{
		Status:    StatusDown,
		Timestamp: now(),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
