package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/trace-forwarder/internal/logging"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	tel, err := Init(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tel != nil {
		t.Error("expected nil telemetry when endpoint is empty")
	}
}

func TestInit_Protocols(t *testing.T) {
	tests := []struct {
		protocol Protocol
		wantErr  bool
	}{
		{"", false},
		{ProtocolGRPC, false},
		{ProtocolHTTP, false},
		{"udp", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.protocol), func(t *testing.T) {
			tel, err := Init(context.Background(), Config{
				Endpoint: "localhost:4317",
				Protocol: tt.protocol,
				Insecure: true,
			}, nil)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownProtocol) {
					t.Errorf("error = %v, want ErrUnknownProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tel.Enabled() {
				t.Error("expected telemetry to be enabled")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = tel.Shutdown(ctx)
		})
	}
}

func TestTelemetry_Nil(t *testing.T) {
	var tel *Telemetry
	if tel.Enabled() {
		t.Error("nil telemetry should not be enabled")
	}
	if tel.NewLogHook() != nil {
		t.Error("nil telemetry should return nil hook")
	}
	if tel.ShutdownTimeout() != defaultShutdownTimeout {
		t.Errorf("ShutdownTimeout() = %v", tel.ShutdownTimeout())
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("nil telemetry shutdown should not error: %v", err)
	}
}

type collector struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies[r.URL.Path] = append(c.bodies[r.URL.Path], raw...)
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
}

func (c *collector) body(path string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[path]
}

func TestInit_HTTPExportsLogsAndBridgedMetrics(t *testing.T) {
	col := &collector{bodies: make(map[string][]byte)}
	srv := httptest.NewServer(col)
	defer srv.Close()

	probe := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_bridge_probe_total",
		Help: "Counter pushed through the Prometheus bridge in tests",
	})
	prometheus.MustRegister(probe)
	defer prometheus.Unregister(probe)
	probe.Add(3)

	res, err := NewResource(context.Background(), "trace-forwarder", "test")
	if err != nil {
		t.Fatal(err)
	}
	tel, err := Init(context.Background(), Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Protocol: ProtocolHTTP,
		Insecure: true,
		Timeout:  2 * time.Second,
	}, res)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tel.NewLogHook()(logging.LevelWarn, "ingest API rejected payload", map[string]interface{}{"status": 403})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if logs := col.body("/v1/logs"); !bytes.Contains(logs, []byte("ingest API rejected payload")) {
		t.Errorf("log record not exported, got %d bytes", len(logs))
	}
	if metrics := col.body("/v1/metrics"); !bytes.Contains(metrics, []byte("telemetry_bridge_probe")) {
		t.Errorf("bridged metric not exported, got %d bytes", len(metrics))
	}
}

type recordExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordExporter) Shutdown(context.Context) error   { return nil }
func (e *recordExporter) ForceFlush(context.Context) error { return nil }

func TestLogHook_Record(t *testing.T) {
	exp := &recordExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	hook := newLogHook(provider.Logger("test"))
	hook(logging.LevelError, "send failed after 8 retries", map[string]interface{}{
		"retries":  8,
		"wait":     80 * time.Second,
		"error":    errors.New("boom"),
		"audit":    false,
		"fraction": 0.5,
		"missing":  nil,
	})

	if len(exp.records) != 1 {
		t.Fatalf("records = %d, want 1", len(exp.records))
	}
	r := exp.records[0]
	if r.Body().AsString() != "send failed after 8 retries" {
		t.Errorf("body = %q", r.Body().AsString())
	}
	if r.Severity() != otellog.SeverityError || r.SeverityText() != "ERROR" {
		t.Errorf("severity = %v %q", r.Severity(), r.SeverityText())
	}

	var keys []string
	got := map[string]string{}
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		keys = append(keys, kv.Key)
		got[kv.Key] = kv.Value.String()
		return true
	})
	if strings.Join(keys, ",") != "audit,error,fraction,missing,retries,wait" {
		t.Errorf("attribute order = %v", keys)
	}
	if got["wait"] != "1m20s" || got["error"] != "boom" || got["missing"] != "<nil>" {
		t.Errorf("attributes = %v", got)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level logging.Level
		want  otellog.Severity
	}{
		{logging.LevelDebug, otellog.SeverityDebug},
		{logging.LevelInfo, otellog.SeverityInfo},
		{logging.LevelWarn, otellog.SeverityWarn},
		{logging.LevelError, otellog.SeverityError},
		{logging.LevelFatal, otellog.SeverityFatal},
		{logging.Level("TRACE"), otellog.SeverityInfo},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%s) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSelfTracer_InstrumentsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	st := NewSelfTracer(SelfTracingConfig{}, nil)
	mem := tracetest.NewInMemoryExporter()
	st.Attach(mem, SelfTracingConfig{BatchTimeout: time.Millisecond})

	client := &http.Client{Transport: st.WrapTransport(http.DefaultTransport)}
	resp, err := client.Post(srv.URL+"/trace/v1", "application/json", strings.NewReader("[]"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if err := st.ForceFlush(context.Background()); err != nil {
		t.Fatal(err)
	}
	spans := mem.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var url string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "url.full" || kv.Key == "http.url" {
			url = kv.Value.AsString()
		}
	}
	if url != srv.URL+"/trace/v1" {
		t.Errorf("client span url = %q", url)
	}
	if err := st.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
