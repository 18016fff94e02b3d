package traceexporter

import (
	"net/url"
	"strings"

	"github.com/szibis/trace-forwarder/internal/logging"
	"github.com/szibis/trace-forwarder/internal/spans"
)

// Outbound URL attributes, legacy and current semantic conventions.
const (
	attrHTTPURL = "http.url"
	attrURLFull = "url.full"
)

// EndpointMatcher recognises URLs that address the ingest API. Entries may
// be full URLs or bare hostnames; comparison is exact and case-insensitive.
type EndpointMatcher struct {
	urls  map[string]struct{}
	hosts map[string]struct{}
}

// NewEndpointMatcher indexes endpoints by full URL and by hostname.
func NewEndpointMatcher(endpoints ...string) *EndpointMatcher {
	m := &EndpointMatcher{
		urls:  make(map[string]struct{}, len(endpoints)),
		hosts: make(map[string]struct{}, len(endpoints)),
	}
	for _, e := range endpoints {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		m.urls[e] = struct{}{}
		if u, err := url.Parse(e); err == nil && u.Hostname() != "" {
			m.hosts[u.Hostname()] = struct{}{}
		} else if !strings.ContainsAny(e, "/:") {
			m.hosts[e] = struct{}{}
		}
	}
	return m
}

// Match reports whether raw, or its hostname, is a known endpoint.
func (m *EndpointMatcher) Match(raw string) bool {
	if m == nil {
		return false
	}
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return false
	}
	if _, ok := m.urls[v]; ok {
		return true
	}
	if u, err := url.Parse(v); err == nil && u.Hostname() != "" {
		_, ok := m.hosts[u.Hostname()]
		return ok
	}
	return false
}

// selfReferenceURL returns the outbound URL attribute that marks s as a call
// to the ingest API, or "" if s is not one.
func (m *EndpointMatcher) selfReferenceURL(attrs map[string]interface{}) string {
	for _, key := range [...]string{attrHTTPURL, attrURLFull} {
		if v, ok := attrs[key].(string); ok && m.Match(v) {
			return v
		}
	}
	return ""
}

// spanKey identifies a span within a batch. Span ids are only unique inside
// their trace.
func spanKey(traceID, spanID string) string {
	return traceID + "/" + spanID
}

// filterDescendants removes every span whose ancestor chain, through
// ParentID within in, reaches a spanKey in poisoned. Removed spans are
// added to poisoned. It repeats passes over the remaining spans until one
// removes nothing, so the result does not depend on input order.
func filterDescendants(in []spans.Span, poisoned map[string]struct{}, log *logging.Logger) (kept []spans.Span, removed int) {
	kept = in
	for len(poisoned) > 0 {
		next := make([]spans.Span, 0, len(kept))
		pass := 0
		for _, s := range kept {
			if _, bad := poisoned[spanKey(s.TraceID, s.ParentID)]; s.ParentID != "" && bad {
				poisoned[spanKey(s.TraceID, s.ID)] = struct{}{}
				pass++
				log.Debug("span filtered as descendant of an ingest API call",
					logging.F("trace_id", s.TraceID, "span_id", s.ID, "parent_id", s.ParentID))
				continue
			}
			next = append(next, s)
		}
		kept = next
		removed += pass
		if pass == 0 {
			break
		}
	}
	return kept, removed
}

// FilterSelfReferences drops spans describing calls to the ingest API, and
// all of their descendants.
func FilterSelfReferences(in []spans.Span, m *EndpointMatcher) []spans.Span {
	kept, _, _ := filterSelfReferences(in, m, nil)
	return kept
}

func filterSelfReferences(in []spans.Span, m *EndpointMatcher, log *logging.Logger) (kept []spans.Span, direct, descendants int) {
	poisoned := make(map[string]struct{})
	remaining := make([]spans.Span, 0, len(in))
	for _, s := range in {
		if u := m.selfReferenceURL(s.Attributes); u != "" {
			poisoned[spanKey(s.TraceID, s.ID)] = struct{}{}
			log.Debug("span filtered as a call to the ingest API",
				logging.F("trace_id", s.TraceID, "span_id", s.ID, "parent_id", s.ParentID, "url", u))
			continue
		}
		remaining = append(remaining, s)
	}
	kept, descendants = filterDescendants(remaining, poisoned, log)
	return kept, len(in) - len(remaining), descendants
}
