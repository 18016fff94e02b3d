package exporter

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want Disposition
	}{
		{200, DispositionSuccess},
		{202, DispositionSuccess},
		{299, DispositionSuccess},
		{400, DispositionDropped},
		{401, DispositionDropped},
		{403, DispositionDropped},
		{404, DispositionDropped},
		{405, DispositionDropped},
		{411, DispositionDropped},
		{408, DispositionRetryBackoff},
		{413, DispositionSplit},
		{429, DispositionRetryServer},
		{0, DispositionDropped},
		{-1, DispositionDropped},
		{199, DispositionDropped},
		{300, DispositionDropped},
		{500, DispositionDropped},
		{503, DispositionDropped},
		{999, DispositionDropped},
	}
	for _, tt := range tests {
		if got := Classify(tt.code); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestIsExpectedRejection(t *testing.T) {
	for _, code := range []int{400, 401, 403, 404, 405, 411} {
		if !isExpectedRejection(code) {
			t.Errorf("isExpectedRejection(%d) = false", code)
		}
	}
	for _, code := range []int{200, 408, 413, 429, 500, 418} {
		if isExpectedRejection(code) {
			t.Errorf("isExpectedRejection(%d) = true", code)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		204: "2xx",
		301: "3xx",
		429: "4xx",
		503: "5xx",
		0:   "other",
		600: "other",
	}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestDispositionString(t *testing.T) {
	tests := map[Disposition]string{
		DispositionSuccess:      "success",
		DispositionDropped:      "dropped",
		DispositionSplit:        "split",
		DispositionRetryBackoff: "retry_backoff",
		DispositionRetryServer:  "retry_server",
		Disposition(99):         "unknown",
	}
	for d, want := range tests {
		if got := d.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
