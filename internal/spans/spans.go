// Package spans holds the ingest API span model and its JSON wire form.
package spans

import (
	"encoding/json"
	"time"
)

// Wire attribute keys understood by the trace ingest API.
const (
	AttrName        = "name"
	AttrParentID    = "parent.id"
	AttrServiceName = "service.name"
	AttrDurationMs  = "duration.ms"
	AttrError       = "error"
)

// Span is one timed operation in a trace. ParentID is a lookup key into the
// same trace, not an owning reference.
type Span struct {
	ID          string
	TraceID     string
	ParentID    string
	Name        string
	ServiceName string
	Timestamp   time.Time
	Duration    time.Duration
	Error       bool
	Attributes  map[string]interface{}
}

type wireSpan struct {
	ID         string                 `json:"id"`
	TraceID    string                 `json:"trace.id"`
	Timestamp  int64                  `json:"timestamp,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// MarshalJSON renders the span in the ingest API shape. Well-known fields
// land in the attributes map. A set field replaces a user attribute of the
// same key; an unset one leaves it as is.
func (s Span) MarshalJSON() ([]byte, error) {
	attrs := make(map[string]interface{}, len(s.Attributes)+5)
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	if s.Name != "" {
		attrs[AttrName] = s.Name
	}
	if s.ParentID != "" {
		attrs[AttrParentID] = s.ParentID
	}
	if s.ServiceName != "" {
		attrs[AttrServiceName] = s.ServiceName
	}
	if s.Duration > 0 {
		attrs[AttrDurationMs] = float64(s.Duration) / float64(time.Millisecond)
	}
	if s.Error {
		attrs[AttrError] = true
	}

	w := wireSpan{ID: s.ID, TraceID: s.TraceID, Attributes: attrs}
	if !s.Timestamp.IsZero() {
		w.Timestamp = s.Timestamp.UnixMilli()
	}
	if len(attrs) == 0 {
		w.Attributes = nil
	}
	return json.Marshal(w)
}

// Batch is an immutable group of spans submitted together, with optional
// attributes shared by every span.
type Batch struct {
	spans  []Span
	common map[string]interface{}
}

// NewBatch copies spans and common so later caller mutation cannot leak
// into a batch already handed to a sender.
func NewBatch(spans []Span, common map[string]interface{}) *Batch {
	b := &Batch{spans: make([]Span, len(spans))}
	copy(b.spans, spans)
	if len(common) > 0 {
		b.common = make(map[string]interface{}, len(common))
		for k, v := range common {
			b.common[k] = v
		}
	}
	return b
}

// Len returns the number of spans.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.spans)
}

// Spans returns a copy of the batch spans.
func (b *Batch) Spans() []Span {
	if b == nil {
		return nil
	}
	out := make([]Span, len(b.spans))
	copy(out, b.spans)
	return out
}

// Common returns the shared attributes. The map must not be modified.
func (b *Batch) Common() map[string]interface{} {
	if b == nil {
		return nil
	}
	return b.common
}

// IsEmpty reports whether the batch has no spans to send.
func (b *Batch) IsEmpty() bool {
	return b.Len() == 0
}

// Split halves the batch. Each half keeps the common attributes. Batches
// with fewer than two spans cannot be split and return nil.
func (b *Batch) Split() []*Batch {
	if b.Len() < 2 {
		return nil
	}
	mid := len(b.spans) / 2
	return []*Batch{
		{spans: b.spans[:mid:mid], common: b.common},
		{spans: b.spans[mid:], common: b.common},
	}
}

type wireCommon struct {
	Attributes map[string]interface{} `json:"attributes"`
}

type wireBatch struct {
	Common *wireCommon `json:"common,omitempty"`
	Spans  []Span      `json:"spans"`
}

// MarshalJSON renders the ingest API payload: a one-element JSON array
// holding the common block and the spans.
func (b *Batch) MarshalJSON() ([]byte, error) {
	w := wireBatch{Spans: b.spans}
	if w.Spans == nil {
		w.Spans = []Span{}
	}
	if len(b.common) > 0 {
		w.Common = &wireCommon{Attributes: b.common}
	}
	return json.Marshal([]wireBatch{w})
}
