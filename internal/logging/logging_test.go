package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to unmarshal log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestF(t *testing.T) {
	tests := []struct {
		name     string
		keyvals  []interface{}
		expected map[string]interface{}
	}{
		{"single pair", []interface{}{"key", "value"}, map[string]interface{}{"key": "value"}},
		{"multiple pairs", []interface{}{"a", 1, "b", true}, map[string]interface{}{"a": 1, "b": true}},
		{"odd args drop last", []interface{}{"a", 1, "b"}, map[string]interface{}{"a": 1}},
		{"non-string key ignored", []interface{}{7, "x", "k", "v"}, map[string]interface{}{"k": "v"}},
		{"empty", nil, map[string]interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := F(tt.keyvals...)
			if len(got) != len(tt.expected) {
				t.Fatalf("F() returned %d fields, expected %d", len(got), len(tt.expected))
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("F()[%q] = %v, expected %v", k, got[k], v)
				}
			}
		})
	}
}

func TestLoggerWritesOTELFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Warn("retrying submission", F("status_code", 429))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SeverityText != "WARN" || e.SeverityNumber != 13 {
		t.Errorf("unexpected severity %s/%d", e.SeverityText, e.SeverityNumber)
	}
	if e.Body != "retrying submission" {
		t.Errorf("unexpected body %q", e.Body)
	}
	if e.Attributes["status_code"].(float64) != 429 {
		t.Errorf("unexpected attributes %v", e.Attributes)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", e.Timestamp, err)
	}
}

func TestLoggerLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	before := testutil.ToFloat64(logMessagesTotal.WithLabelValues("DEBUG", "general"))
	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown")
	after := testutil.ToFloat64(logMessagesTotal.WithLabelValues("DEBUG", "general"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Body != "shown" {
		t.Fatalf("expected only the error entry, got %+v", entries)
	}
	if after-before != 1 {
		t.Errorf("suppressed entries must still be counted, delta=%v", after-before)
	}
	if l.Enabled(LevelDebug) {
		t.Error("debug should not be enabled at WARN threshold")
	}
	if !l.Enabled(LevelError) {
		t.Error("error should be enabled at WARN threshold")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	l.Exception("x", errors.New("boom"))
	if l.Enabled(LevelFatal) {
		t.Error("nil logger must report nothing enabled")
	}
	if l.With("sender") != nil {
		t.Error("With on nil logger must stay nil")
	}
}

func TestException(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Exception("configuration rejected", errors.New("api key is required"), F("field", "api_key"))

	e := decodeLines(t, &buf)[0]
	if e.SeverityText != "ERROR" {
		t.Errorf("expected ERROR, got %s", e.SeverityText)
	}
	if e.Attributes["exception"] != "api key is required" {
		t.Errorf("missing exception attribute: %v", e.Attributes)
	}
	if e.Attributes["field"] != "api_key" {
		t.Errorf("missing caller field: %v", e.Attributes)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo).With("sender")

	before := testutil.ToFloat64(logMessagesTotal.WithLabelValues("INFO", "sender"))
	l.Info("payload accepted")
	l.Info("explicit wins", F("component", "receiver"))

	entries := decodeLines(t, &buf)
	if entries[0].Attributes["component"] != "sender" {
		t.Errorf("expected component=sender, got %v", entries[0].Attributes)
	}
	if entries[1].Attributes["component"] != "receiver" {
		t.Errorf("expected explicit component to win, got %v", entries[1].Attributes)
	}
	if got := testutil.ToFloat64(logMessagesTotal.WithLabelValues("INFO", "sender")) - before; got != 1 {
		t.Errorf("expected sender counter +1, got %v", got)
	}
}

func TestDefaultLoggerAndResource(t *testing.T) {
	var buf bytes.Buffer
	orig := defaultLogger.output
	SetOutput(&buf)
	SetResource(map[string]string{"service.name": "trace-forwarder"})
	defer func() {
		SetOutput(orig)
		SetResource(nil)
	}()

	Info("started")

	e := decodeLines(t, &buf)[0]
	if e.Resource["service.name"] != "trace-forwarder" {
		t.Errorf("expected resource on entry, got %v", e.Resource)
	}
}

func TestHookCalledOutsideLock(t *testing.T) {
	var buf bytes.Buffer
	orig := defaultLogger.output
	SetOutput(&buf)
	defer func() {
		SetOutput(orig)
		SetHook(nil)
	}()

	done := make(chan struct{}, 1)
	var calls int32
	SetHook(func(level Level, msg string, attrs map[string]interface{}) {
		if atomic.AddInt32(&calls, 1) == 1 {
			Info("from hook")
			done <- struct{}{}
		}
	})

	Info("trigger")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hook re-entry deadlocked")
	}
	if n := len(decodeLines(t, &buf)); n != 2 {
		t.Errorf("expected 2 lines, got %d", n)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
