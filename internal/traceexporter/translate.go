package traceexporter

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/szibis/trace-forwarder/internal/logging"
	"github.com/szibis/trace-forwarder/internal/spans"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

const (
	sourceSDK  = "sdk"
	sourceOTLP = "otlp"

	serviceNameKey = attribute.Key("service.name")
)

var (
	errInvalidTraceID = errors.New("invalid trace id")
	errInvalidSpanID  = errors.New("invalid span id")
	errMissingStart   = errors.New("missing start time")
)

// Translator converts OpenTelemetry spans to the ingest span model and
// removes spans that describe calls to the ingest API.
type Translator struct {
	serviceName string
	matcher     *EndpointMatcher
	log         *logging.Logger
}

// NewTranslator returns a Translator. When serviceName is empty each span
// keeps the service.name of its resource.
func NewTranslator(serviceName string, matcher *EndpointMatcher, log *logging.Logger) *Translator {
	return &Translator{serviceName: serviceName, matcher: matcher, log: log}
}

// FromSDK translates spans handed to an SDK span exporter. Records that
// cannot be translated are logged and skipped.
func (t *Translator) FromSDK(in []sdktrace.ReadOnlySpan) *spans.Batch {
	out := make([]spans.Span, 0, len(in))
	for _, s := range in {
		if s == nil {
			continue
		}
		sp, err := t.fromReadOnly(s)
		if err != nil {
			spansInvalidTotal.WithLabelValues(sourceSDK).Inc()
			t.log.Error("failed to translate span", logging.F(
				"span_id", s.SpanContext().SpanID().String(),
				"error", err.Error(),
			))
			continue
		}
		out = append(out, sp)
	}
	return t.finish(sourceSDK, out)
}

// FromOTLP translates spans received over OTLP.
func (t *Translator) FromOTLP(in []*tracepb.ResourceSpans) *spans.Batch {
	var out []spans.Span
	for _, rs := range in {
		service := t.serviceName
		if service == "" {
			service = otlpServiceName(rs.GetResource().GetAttributes())
		}
		for _, ss := range rs.GetScopeSpans() {
			for _, s := range ss.GetSpans() {
				sp, err := fromOTLPSpan(s, service)
				if err != nil {
					spansInvalidTotal.WithLabelValues(sourceOTLP).Inc()
					t.log.Error("failed to translate span", logging.F(
						"span_id", hex.EncodeToString(s.GetSpanId()),
						"error", err.Error(),
					))
					continue
				}
				out = append(out, sp)
			}
		}
	}
	return t.finish(sourceOTLP, out)
}

func (t *Translator) finish(source string, in []spans.Span) *spans.Batch {
	spansTranslatedTotal.WithLabelValues(source).Add(float64(len(in)))
	kept, direct, descendants := filterSelfReferences(in, t.matcher, t.log)
	if direct > 0 {
		spansFilteredTotal.WithLabelValues("direct").Add(float64(direct))
	}
	if descendants > 0 {
		spansFilteredTotal.WithLabelValues("descendant").Add(float64(descendants))
	}
	return spans.NewBatch(kept, nil)
}

func (t *Translator) fromReadOnly(s sdktrace.ReadOnlySpan) (spans.Span, error) {
	sc := s.SpanContext()
	if !sc.TraceID().IsValid() {
		return spans.Span{}, errInvalidTraceID
	}
	if !sc.SpanID().IsValid() {
		return spans.Span{}, errInvalidSpanID
	}
	if s.StartTime().IsZero() {
		return spans.Span{}, errMissingStart
	}

	kvs := s.Attributes()
	attrs := make(map[string]interface{}, len(kvs))
	for _, kv := range kvs {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	sp := spans.Span{
		ID:          sc.SpanID().String(),
		TraceID:     sc.TraceID().String(),
		Name:        s.Name(),
		ServiceName: t.serviceName,
		Timestamp:   s.StartTime(),
		Duration:    elapsed(s.StartTime(), s.EndTime()),
		Error:       s.Status().Code == codes.Error,
		Attributes:  attrs,
	}
	if p := s.Parent(); p.SpanID().IsValid() {
		sp.ParentID = p.SpanID().String()
	}
	if sp.ServiceName == "" {
		if r := s.Resource(); r != nil {
			if v, ok := r.Set().Value(serviceNameKey); ok {
				sp.ServiceName = v.Emit()
			}
		}
	}
	return sp, nil
}

func fromOTLPSpan(s *tracepb.Span, service string) (spans.Span, error) {
	if !validID(s.GetTraceId(), 16) {
		return spans.Span{}, errInvalidTraceID
	}
	if !validID(s.GetSpanId(), 8) {
		return spans.Span{}, errInvalidSpanID
	}
	if s.GetStartTimeUnixNano() == 0 {
		return spans.Span{}, errMissingStart
	}

	attrs := make(map[string]interface{}, len(s.GetAttributes()))
	for _, kv := range s.GetAttributes() {
		attrs[kv.GetKey()] = anyValue(kv.GetValue())
	}

	start := time.Unix(0, int64(s.GetStartTimeUnixNano()))
	end := time.Unix(0, int64(s.GetEndTimeUnixNano()))
	sp := spans.Span{
		ID:          hex.EncodeToString(s.GetSpanId()),
		TraceID:     hex.EncodeToString(s.GetTraceId()),
		Name:        s.GetName(),
		ServiceName: service,
		Timestamp:   start,
		Duration:    elapsed(start, end),
		Error:       s.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR,
		Attributes:  attrs,
	}
	if validID(s.GetParentSpanId(), 8) {
		sp.ParentID = hex.EncodeToString(s.GetParentSpanId())
	}
	return sp, nil
}

func elapsed(start, end time.Time) time.Duration {
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// validID reports whether id has length n and is not all zeros.
func validID(id []byte, n int) bool {
	if len(id) != n {
		return false
	}
	for _, b := range id {
		if b != 0 {
			return true
		}
	}
	return false
}

func otlpServiceName(attrs []*commonpb.KeyValue) string {
	for _, kv := range attrs {
		if kv.GetKey() == string(serviceNameKey) {
			return kv.GetValue().GetStringValue()
		}
	}
	return ""
}

// anyValue converts an OTLP attribute value to its JSON-ready Go form.
func anyValue(v *commonpb.AnyValue) interface{} {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(x.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		values := x.ArrayValue.GetValues()
		out := make([]interface{}, len(values))
		for i, e := range values {
			out[i] = anyValue(e)
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		kvs := x.KvlistValue.GetValues()
		out := make(map[string]interface{}, len(kvs))
		for _, kv := range kvs {
			out[kv.GetKey()] = anyValue(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}
