package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/promorank/internal/auth"
	"github.com/onnwee/promorank/internal/idempotency"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestMiddlewareStack wires the chain the API server uses for operator
// writes and checks that each layer contributes to the request log.
func TestMiddlewareStack(t *testing.T) {
	buf := &bytes.Buffer{}
	svc := auth.NewJWTService("stack-secret", "")
	token, err := svc.IssueOperatorToken("ops-alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	metrics := NewMetrics()
	write := RequireOperator(svc)(
		RateLimiter(NewInMemoryRateLimitStore(), RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, OperatorKeyFunc(), metrics)(
			IdempotencyMiddleware(IdempotencyConfig{
				Repository: idempotency.NewInMemoryRepository(nil),
				Routes:     IdempotentRoutes("/scopes/{scope}/manual"),
				Metrics:    metrics,
				Logger:     quietLogger(),
			})(okHandler())))
	handler := RequestID(Logging(newTestLogger(buf))(HTTPMetrics(metrics)(write)))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/scopes/US/manual", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	entry := parseEntry(t, buf)
	if entry.OperatorID != "ops-alice" || entry.RequestID == "" {
		t.Errorf("log entry = %+v, want operator and request id", entry)
	}

	buf.Reset()
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr.Code)
	}
	entry = parseEntry(t, buf)
	if entry.ErrorCode != "rate_limited" || entry.OperatorID != "ops-alice" {
		t.Errorf("log entry = %+v, want rate_limited for ops-alice", entry)
	}
	if got := counterVecValue(t, metrics.rateLimitBlocked, "/scopes/{scope}/manual", "operator"); got != 1 {
		t.Errorf("blocked counter = %v, want 1", got)
	}
}
