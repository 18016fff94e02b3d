package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func probe(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return rec.Code, resp
}

func TestLive(t *testing.T) {
	c := New(0)
	if code, resp := probe(t, c.Handler(), "/live"); code != http.StatusOK || resp.Status != StatusUp {
		t.Errorf("live = %d %s", code, resp.Status)
	}

	c.SetShuttingDown()
	code, resp := probe(t, c.Handler(), "/live")
	if code != http.StatusServiceUnavailable || resp.Components["process"].Message != "shutting down" {
		t.Errorf("live after shutdown = %d %+v", code, resp)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]CheckFunc
		wantCode int
		wantDown []string
	}{
		{"no checks", nil, http.StatusOK, nil},
		{
			"all healthy",
			map[string]CheckFunc{
				"exporter":      func(context.Context) error { return nil },
				"http_receiver": func(context.Context) error { return nil },
			},
			http.StatusOK, nil,
		},
		{
			"one down",
			map[string]CheckFunc{
				"exporter":      func(context.Context) error { return errors.New("stopped") },
				"grpc_receiver": func(context.Context) error { return nil },
			},
			http.StatusServiceUnavailable, []string{"exporter"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(0)
			for name, check := range tt.checks {
				c.RegisterReadiness(name, check)
			}
			code, resp := probe(t, c.ReadyHandler(), "/ready")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if len(resp.Components) != len(tt.checks) {
				t.Errorf("components = %v", resp.Components)
			}
			for _, name := range tt.wantDown {
				if resp.Components[name].Status != StatusDown {
					t.Errorf("%s = %+v, want down", name, resp.Components[name])
				}
			}
		})
	}
}

func TestReady_CheckTimeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterReadiness("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	code, resp := probe(t, c.ReadyHandler(), "/ready")
	if code != http.StatusServiceUnavailable || resp.Components["slow"].Status != StatusDown {
		t.Errorf("ready = %d %+v", code, resp)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("check timeout not applied")
	}
	if v := testutil.ToFloat64(readyGauge.WithLabelValues("slow")); v != 0 {
		t.Errorf("ready gauge = %v, want 0", v)
	}
}

func TestReady_ShuttingDown(t *testing.T) {
	c := New(0)
	c.RegisterReadiness("exporter", func(context.Context) error { return nil })
	c.SetShuttingDown()
	if code, _ := probe(t, c.ReadyHandler(), "/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
}

func TestReady_GaugeTracksState(t *testing.T) {
	c := New(0)
	healthy := true
	c.RegisterReadiness("toggle", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	c.Check(context.Background())
	if v := testutil.ToFloat64(readyGauge.WithLabelValues("toggle")); v != 1 {
		t.Errorf("gauge = %v, want 1", v)
	}
	healthy = false
	c.Check(context.Background())
	if v := testutil.ToFloat64(readyGauge.WithLabelValues("toggle")); v != 0 {
		t.Errorf("gauge = %v, want 0", v)
	}
}
