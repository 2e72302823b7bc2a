package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/promorank/internal/health"
)

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	checkers map[string]health.Checker
	timeout  time.Duration
	now      func() time.Time
}

// HealthHandlersConfig configures the health check handlers.
type HealthHandlersConfig struct {
	// Checkers are run by Ready, keyed by dependency name. A nil checker
	// marks a dependency served from memory and always reports ok.
	Checkers map[string]health.Checker
	Timeout  time.Duration
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	checkers := make(map[string]health.Checker, len(config.Checkers))
	for name, c := range config.Checkers {
		checkers[name] = c
	}
	return &HealthHandlers{
		checkers: checkers,
		timeout:  config.Timeout,
		now:      time.Now,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe). It returns 503 when any
// configured dependency fails its check.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	results := health.RunAll(r.Context(), h.checkers, h.timeout)

	checks := make(map[string]string, len(results))
	healthy := true
	for name, res := range results {
		if res.OK() {
			checks[name] = "ok"
			continue
		}
		checks[name] = "error"
		healthy = false
		slog.WarnContext(r.Context(), "readiness check failed", "dependency", name, "error", res.Err)
	}

	resp := HealthResponse{
		Status:    "healthy",
		Checks:    checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r.Context(), status, resp)
}
