package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/scopes", "/scopes"},
		{"/plans", "/plans"},
		{"/metrics", "/metrics"},
		{"/scopes/US/ranking", "/scopes/{scope}/ranking"},
		{"/scopes/de/ranking", "/scopes/{scope}/ranking"},
		{"/scopes/US/manual", "/scopes/{scope}/manual"},
		{"/scopes/US/boosts", "/scopes/{scope}/boosts"},
		{"/scopes/US/manual/prod-123", "/scopes/{scope}/manual/{product_id}"},
		{"/scopes/FR/boosts/prod-9", "/scopes/{scope}/boosts/{product_id}"},
		{"/scopes/US/unknown", "other"},
		{"/scopes/US/manual/a/b", "other"},
		{"/scopes//ranking", "other"},
		{"/wp-admin.php", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	seen := map[string]bool{}
	for _, scope := range []string{"US", "DE", "FR", "GB", "JP"} {
		for i := 0; i < 50; i++ {
			seen[normalizePath("/scopes/"+scope+"/manual/p"+strings.Repeat("x", i))] = true
			seen[normalizePath("/scopes/"+scope+"/ranking")] = true
		}
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 distinct labels, got %d: %v", len(seen), seen)
	}
}

func TestHTTPMetrics(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		status      int
		wantPath    string
		wantMetrics bool
	}{
		{"ranking read", http.MethodGet, "/scopes/US/ranking", "", http.StatusOK, "/scopes/{scope}/ranking", true},
		{"manual batch", http.MethodPost, "/scopes/US/manual", `{"overrides":[]}`, http.StatusBadRequest, "/scopes/{scope}/manual", true},
		{"health excluded", http.MethodGet, "/health", "", http.StatusOK, "/health", false},
		{"ready excluded", http.MethodGet, "/ready", "", http.StatusOK, "/ready", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			reg := prometheus.NewRegistry()
			if err := m.Register(reg); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}

			handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Length", "16")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			labels := map[string]string{"method": tt.method, "path": tt.wantPath}
			count := histogramCount(t, reg, MetricHTTPRequestDuration, labels)
			if tt.wantMetrics && count != 1 {
				t.Errorf("duration samples = %d, want 1", count)
			}
			if !tt.wantMetrics && count != 0 {
				t.Errorf("health endpoint recorded %d samples", count)
			}
			if tt.wantMetrics && histogramCount(t, reg, MetricHTTPResponseSizeBytes, labels) != 1 {
				t.Error("response size not recorded")
			}
		})
	}
}

func TestMetricsResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rr)

	mrw.WriteHeader(http.StatusConflict)
	mrw.WriteHeader(http.StatusOK)
	_, _ = mrw.Write([]byte("abc"))
	_, _ = mrw.Write([]byte("de"))

	if mrw.statusCode != http.StatusConflict {
		t.Errorf("statusCode = %d, want 409", mrw.statusCode)
	}
	if mrw.size != 5 {
		t.Errorf("size = %d, want 5", mrw.size)
	}
	if mrw.Unwrap() != rr {
		t.Error("Unwrap() should return the underlying writer")
	}
}

func BenchmarkNormalizePath(b *testing.B) {
	paths := []string{"/scopes", "/scopes/US/ranking", "/scopes/US/manual/prod-1", "/nope"}
	for i := 0; i < b.N; i++ {
		normalizePath(paths[i%len(paths)])
	}
}
