package traceexporter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

var (
	testTraceID = trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	testStart   = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
)

func spanContext(id byte) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    testTraceID,
		SpanID:     trace.SpanID{0, 0, 0, 0, 0, 0, 0, id},
		TraceFlags: trace.FlagsSampled,
	})
}

func stub(id, parent byte, attrs ...attribute.KeyValue) sdktrace.ReadOnlySpan {
	s := tracetest.SpanStub{
		Name:        "op",
		SpanContext: spanContext(id),
		StartTime:   testStart,
		EndTime:     testStart.Add(1500 * time.Microsecond),
		Attributes:  attrs,
	}
	if parent != 0 {
		s.Parent = spanContext(parent)
	}
	return s.Snapshot()
}

func TestFromSDK_MapsFields(t *testing.T) {
	s := tracetest.SpanStub{
		Name:        "GET /orders",
		SpanContext: spanContext(2),
		Parent:      spanContext(1),
		StartTime:   testStart,
		EndTime:     testStart.Add(250 * time.Millisecond),
		Status:      sdktrace.Status{Code: codes.Error, Description: "boom"},
		Attributes: []attribute.KeyValue{
			attribute.String("http.method", "GET"),
			attribute.Int64("http.status_code", 500),
			attribute.Bool("retry", true),
			attribute.StringSlice("tags", []string{"a", "b"}),
		},
		Resource: sdkresource.NewSchemaless(attribute.String("service.name", "orders")),
	}.Snapshot()

	tr := NewTranslator("checkout", NewEndpointMatcher(ingestURL), nil)
	batch := tr.FromSDK([]sdktrace.ReadOnlySpan{s})
	if batch.Len() != 1 {
		t.Fatalf("batch has %d spans, want 1", batch.Len())
	}
	got := batch.Spans()[0]

	if got.ID != "0000000000000002" || got.ParentID != "0000000000000001" {
		t.Errorf("ids: span=%s parent=%s", got.ID, got.ParentID)
	}
	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s", got.TraceID)
	}
	if got.Name != "GET /orders" || got.ServiceName != "checkout" {
		t.Errorf("name=%q service=%q", got.Name, got.ServiceName)
	}
	if !got.Timestamp.Equal(testStart) || got.Duration != 250*time.Millisecond {
		t.Errorf("timestamp=%v duration=%v", got.Timestamp, got.Duration)
	}
	if !got.Error {
		t.Error("expected error flag")
	}
	if got.Attributes["http.method"] != "GET" || got.Attributes["http.status_code"] != int64(500) || got.Attributes["retry"] != true {
		t.Errorf("attributes = %v", got.Attributes)
	}
	if tags, ok := got.Attributes["tags"].([]string); !ok || len(tags) != 2 {
		t.Errorf("tags = %#v", got.Attributes["tags"])
	}
}

func TestFromSDK_ServiceNameFromResource(t *testing.T) {
	s := tracetest.SpanStub{
		Name:        "op",
		SpanContext: spanContext(1),
		StartTime:   testStart,
		EndTime:     testStart,
		Resource:    sdkresource.NewSchemaless(attribute.String("service.name", "orders")),
	}.Snapshot()

	batch := NewTranslator("", nil, nil).FromSDK([]sdktrace.ReadOnlySpan{s})
	if got := batch.Spans()[0].ServiceName; got != "orders" {
		t.Errorf("service name = %q, want orders", got)
	}
}

func TestFromSDK_SkipsInvalidRecords(t *testing.T) {
	before := testutil.ToFloat64(spansInvalidTotal.WithLabelValues(sourceSDK))

	noTrace := tracetest.SpanStub{
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{SpanID: trace.SpanID{1}}),
		StartTime:   testStart,
	}.Snapshot()
	noSpan := tracetest.SpanStub{
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{TraceID: testTraceID}),
		StartTime:   testStart,
	}.Snapshot()
	noStart := tracetest.SpanStub{SpanContext: spanContext(3)}.Snapshot()

	in := []sdktrace.ReadOnlySpan{noTrace, stub(4, 0), nil, noSpan, noStart, stub(5, 4)}
	batch := NewTranslator("", nil, nil).FromSDK(in)
	if batch.Len() != 2 {
		t.Fatalf("batch has %d spans, want 2", batch.Len())
	}
	if d := testutil.ToFloat64(spansInvalidTotal.WithLabelValues(sourceSDK)) - before; d != 3 {
		t.Errorf("invalid delta = %v, want 3", d)
	}
}

func TestFromSDK_EndBeforeStart(t *testing.T) {
	s := tracetest.SpanStub{
		SpanContext: spanContext(1),
		StartTime:   testStart,
		EndTime:     testStart.Add(-time.Second),
	}.Snapshot()
	batch := NewTranslator("", nil, nil).FromSDK([]sdktrace.ReadOnlySpan{s})
	if d := batch.Spans()[0].Duration; d != 0 {
		t.Errorf("duration = %v, want 0", d)
	}
}

func TestFromSDK_FiltersSelfReferences(t *testing.T) {
	in := []sdktrace.ReadOnlySpan{
		stub(2, 1),
		stub(1, 0, attribute.String("http.url", "HTTPS://Trace-API.NewRelic.com/trace/v1")),
		stub(3, 0),
	}
	batch := NewTranslator("", NewEndpointMatcher(ingestURL), nil).FromSDK(in)
	if batch.Len() != 1 || batch.Spans()[0].ID != "0000000000000003" {
		t.Errorf("unexpected batch: %+v", batch.Spans())
	}
}

func otlpSpan(spanID, parentID byte, attrs ...*commonpb.KeyValue) *tracepb.Span {
	s := &tracepb.Span{
		TraceId:           testTraceID[:],
		SpanId:            []byte{0, 0, 0, 0, 0, 0, 0, spanID},
		Name:              "rpc",
		StartTimeUnixNano: uint64(testStart.UnixNano()),
		EndTimeUnixNano:   uint64(testStart.Add(40 * time.Millisecond).UnixNano()),
		Attributes:        attrs,
	}
	if parentID != 0 {
		s.ParentSpanId = []byte{0, 0, 0, 0, 0, 0, 0, parentID}
	}
	return s
}

func strKV(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
}

func TestFromOTLP(t *testing.T) {
	withStatus := otlpSpan(2, 1,
		&commonpb.KeyValue{Key: "count", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 7}}},
		&commonpb.KeyValue{Key: "ratio", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: 0.5}}},
		&commonpb.KeyValue{Key: "ok", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: true}}},
		&commonpb.KeyValue{Key: "raw", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: []byte{0xca, 0xfe}}}},
		&commonpb.KeyValue{Key: "list", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{
			Values: []*commonpb.AnyValue{{Value: &commonpb.AnyValue_StringValue{StringValue: "x"}}},
		}}}},
		&commonpb.KeyValue{Key: "kv", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{KvlistValue: &commonpb.KeyValueList{
			Values: []*commonpb.KeyValue{strKV("inner", "v")},
		}}}},
	)
	withStatus.Status = &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR}

	invalid := otlpSpan(9, 0)
	invalid.TraceId = make([]byte, 16)

	rs := []*tracepb.ResourceSpans{{
		Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{strKV("service.name", "billing")}},
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{otlpSpan(1, 0), withStatus, invalid},
		}},
	}}

	batch := NewTranslator("", nil, nil).FromOTLP(rs)
	if batch.Len() != 2 {
		t.Fatalf("batch has %d spans, want 2", batch.Len())
	}
	got := batch.Spans()[1]
	if got.ID != "0000000000000002" || got.ParentID != "0000000000000001" || got.ServiceName != "billing" {
		t.Errorf("unexpected span: %+v", got)
	}
	if !got.Error || got.Duration != 40*time.Millisecond {
		t.Errorf("error=%v duration=%v", got.Error, got.Duration)
	}

	raw, err := json.Marshal(got.Attributes)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"count":7,"kv":{"inner":"v"},"list":["x"],"ok":true,"ratio":0.5,"raw":"cafe"}`
	if string(raw) != want {
		t.Errorf("attributes = %s, want %s", raw, want)
	}

	if root := batch.Spans()[0]; root.ParentID != "" {
		t.Errorf("root span has parent %q", root.ParentID)
	}
}

func TestFromOTLP_ConfiguredServiceNameWins(t *testing.T) {
	rs := []*tracepb.ResourceSpans{{
		Resource:   &resourcepb.Resource{Attributes: []*commonpb.KeyValue{strKV("service.name", "billing")}},
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{otlpSpan(1, 0)}}},
	}}
	batch := NewTranslator("gateway", nil, nil).FromOTLP(rs)
	if got := batch.Spans()[0].ServiceName; got != "gateway" {
		t.Errorf("service name = %q, want gateway", got)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   []byte
		n    int
		want bool
	}{
		{[]byte{0, 0, 0, 0, 0, 0, 0, 1}, 8, true},
		{make([]byte, 8), 8, false},
		{[]byte{1, 2, 3}, 8, false},
		{nil, 16, false},
	}
	for _, tt := range tests {
		if got := validID(tt.id, tt.n); got != tt.want {
			t.Errorf("validID(%x, %d) = %v, want %v", tt.id, tt.n, got, tt.want)
		}
	}
}
