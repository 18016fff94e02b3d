package spans

import (
	"encoding/json"
	"testing"
	"time"
)

func testSpans(n int) []Span {
	out := make([]Span, n)
	for i := range out {
		out[i] = Span{ID: string(rune('a' + i)), TraceID: "t1", Name: "op"}
	}
	return out
}

func TestSpanMarshalJSON(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Span{
		ID:          "00f067aa0ba902b7",
		TraceID:     "4bf92f3577b34da6a3ce929d0e0e4736",
		ParentID:    "53995c3f42cd8ad8",
		Name:        "GET /checkout",
		ServiceName: "shop",
		Timestamp:   start,
		Duration:    1500 * time.Microsecond,
		Error:       true,
		Attributes:  map[string]interface{}{"http.method": "GET", AttrName: "overridden"},
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != s.ID || got["trace.id"] != s.TraceID {
		t.Errorf("unexpected ids: %v", got)
	}
	if got["timestamp"].(float64) != float64(start.UnixMilli()) {
		t.Errorf("timestamp = %v, want %d", got["timestamp"], start.UnixMilli())
	}
	attrs := got["attributes"].(map[string]interface{})
	want := map[string]interface{}{
		AttrName:        "GET /checkout",
		AttrParentID:    "53995c3f42cd8ad8",
		AttrServiceName: "shop",
		AttrDurationMs:  1.5,
		AttrError:       true,
		"http.method":   "GET",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attributes[%q] = %v, want %v", k, attrs[k], v)
		}
	}
}

func TestSpanMarshalJSONReservedKeys(t *testing.T) {
	user := map[string]interface{}{
		AttrName:        "user-name",
		AttrParentID:    "user-parent",
		AttrServiceName: "user-service",
		AttrDurationMs:  7.0,
		AttrError:       false,
	}
	tests := []struct {
		name string
		span Span
		want map[string]interface{}
	}{
		{
			name: "fields unset keep user attributes",
			span: Span{ID: "a", TraceID: "t", Attributes: user},
			want: user,
		},
		{
			name: "fields set win",
			span: Span{
				ID: "a", TraceID: "t", ParentID: "p", Name: "op", ServiceName: "svc",
				Duration: 2 * time.Millisecond, Error: true, Attributes: user,
			},
			want: map[string]interface{}{
				AttrName:        "op",
				AttrParentID:    "p",
				AttrServiceName: "svc",
				AttrDurationMs:  2.0,
				AttrError:       true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.span)
			if err != nil {
				t.Fatal(err)
			}
			var got struct {
				Attributes map[string]interface{} `json:"attributes"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			for k, v := range tt.want {
				if got.Attributes[k] != v {
					t.Errorf("attributes[%q] = %v, want %v", k, got.Attributes[k], v)
				}
			}
		})
	}
}

func TestSpanMarshalJSONMinimal(t *testing.T) {
	data, err := json.Marshal(Span{ID: "a", TraceID: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":"a","trace.id":"t"}` {
		t.Errorf("unexpected minimal encoding: %s", data)
	}
}

func TestNewBatchCopiesInput(t *testing.T) {
	in := testSpans(2)
	common := map[string]interface{}{"host": "a"}
	b := NewBatch(in, common)

	in[0].ID = "mutated"
	common["host"] = "b"

	if b.Spans()[0].ID == "mutated" {
		t.Error("batch must not alias the caller's span slice")
	}
	if b.Common()["host"] != "a" {
		t.Error("batch must not alias the caller's common map")
	}
}

func TestBatchIsEmpty(t *testing.T) {
	var nilBatch *Batch
	if !nilBatch.IsEmpty() {
		t.Error("nil batch should be empty")
	}
	if !NewBatch(nil, nil).IsEmpty() {
		t.Error("batch without spans should be empty")
	}
	if NewBatch(testSpans(1), nil).IsEmpty() {
		t.Error("batch with a span should not be empty")
	}
}

func TestBatchSplit(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		wantParts []int
	}{
		{"empty", 0, nil},
		{"single", 1, nil},
		{"two", 2, []int{1, 1}},
		{"four", 4, []int{2, 2}},
		{"odd", 5, []int{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatch(testSpans(tt.n), map[string]interface{}{"k": "v"})
			parts := b.Split()
			if len(parts) != len(tt.wantParts) {
				t.Fatalf("Split() returned %d parts, want %d", len(parts), len(tt.wantParts))
			}
			seen := 0
			for i, p := range parts {
				if p.Len() != tt.wantParts[i] {
					t.Errorf("part %d has %d spans, want %d", i, p.Len(), tt.wantParts[i])
				}
				if p.Common()["k"] != "v" {
					t.Errorf("part %d lost common attributes", i)
				}
				seen += p.Len()
			}
			if parts != nil && seen != tt.n {
				t.Errorf("split lost spans: %d != %d", seen, tt.n)
			}
			if b.Len() != tt.n {
				t.Errorf("split mutated the original batch")
			}
		})
	}
}

func TestBatchMarshalJSON(t *testing.T) {
	b := NewBatch(testSpans(2), map[string]interface{}{"service.name": "shop"})
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}

	var payload []struct {
		Common *struct {
			Attributes map[string]interface{} `json:"attributes"`
		} `json:"common"`
		Spans []map[string]interface{} `json:"spans"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("payload is not a JSON array: %v (%s)", err, data)
	}
	if len(payload) != 1 {
		t.Fatalf("expected one batch element, got %d", len(payload))
	}
	if payload[0].Common == nil || payload[0].Common.Attributes["service.name"] != "shop" {
		t.Errorf("missing common block: %s", data)
	}
	if len(payload[0].Spans) != 2 {
		t.Errorf("expected 2 spans, got %d", len(payload[0].Spans))
	}
}

func TestBatchMarshalJSONWithoutCommon(t *testing.T) {
	data, err := json.Marshal(NewBatch(nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[{"spans":[]}]` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
