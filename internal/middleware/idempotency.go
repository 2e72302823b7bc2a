package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/promorank/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyReplayedHeader is set on responses served from the cache.
const IdempotencyReplayedHeader = "Idempotent-Replayed"

// maxIdempotentBody bounds the request body buffered for fingerprinting.
const maxIdempotentBody = 1 << 20

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// IdempotencyConfig configures IdempotencyMiddleware.
type IdempotencyConfig struct {
	Repository idempotency.Repository
	// Routes selects the requests the middleware applies to. Only POST
	// requests are ever considered.
	Routes func(r *http.Request) bool
	// Required rejects matching requests that carry no key. Otherwise they
	// pass through uncached.
	Required bool
	Metrics  *Metrics
	Logger   *slog.Logger
}

// IdempotentRoutes matches requests whose normalized path is one of patterns,
// e.g. "/scopes/{scope}/manual".
func IdempotentRoutes(patterns ...string) func(*http.Request) bool {
	set := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		set[p] = true
	}
	return func(r *http.Request) bool {
		return set[normalizePath(r.URL.Path)]
	}
}

// bufferedResponse captures a handler's response so it can be stored and
// written to every caller that shares it.
type bufferedResponse struct {
	parent      http.ResponseWriter
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedResponse(parent http.ResponseWriter) *bufferedResponse {
	return &bufferedResponse{parent: parent, header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }

// Unwrap exposes the leader's writer so UpdateResponseContext still reaches
// the Logging middleware.
func (b *bufferedResponse) Unwrap() http.ResponseWriter { return b.parent }

// idempotentResult is the outcome shared by concurrent requests with one key.
type idempotentResult struct {
	status   int
	header   http.Header
	body     []byte
	replayed bool
	reused   bool

	// method, route and requestHash identify the request that produced the
	// result. Callers that joined with a different request must not use it.
	method      string
	route       string
	requestHash string
}

func (res *idempotentResult) sameRequest(method, route, requestHash string) bool {
	return res.method == method && res.route == route && res.requestHash == requestHash
}

func replayRecord(rec *idempotency.Record) *idempotentResult {
	return &idempotentResult{
		status:   rec.ResponseStatusCode,
		header:   http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		body:     []byte(rec.ResponseBody),
		replayed: true,
	}
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key instead of running the handler again. Keys are scoped to
// the authenticated operator and bound to the request fingerprint; reusing a
// key with a different body is rejected with 422. Concurrent requests with
// the same key and body run the handler once and share its response; a
// concurrent request with the same key and a different body gets 422. Only
// 2xx responses are stored.
func IdempotencyMiddleware(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var group singleflight.Group

	count := func(outcome string) {
		if cfg.Metrics != nil {
			cfg.Metrics.IncIdempotency(outcome)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || cfg.Routes == nil || !cfg.Routes(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				if cfg.Required {
					writeError(w, r.Context(), http.StatusBadRequest, "missing_idempotency_key",
						"Idempotency-Key header is required for this request")
					return
				}
				count(IdempotencyBypassed)
				next.ServeHTTP(w, r)
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				code, message := "invalid_idempotency_key", "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeError(w, r.Context(), http.StatusBadRequest, code, message)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				writeError(w, r.Context(), http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := idempotency.Hash(body)
			storageKey := idempotency.Hash([]byte(GetOperatorID(r.Context()) + "\x00" + key))

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			execute := func() *idempotentResult {
				existing, err := cfg.Repository.Get(ctx, storageKey)
				lookupFailed := err != nil && !errors.Is(err, idempotency.ErrKeyNotFound)
				switch {
				case err == nil:
					if !existing.Matches(r.Method, r.URL.Path, requestHash) {
						return &idempotentResult{reused: true}
					}
					return replayRecord(existing)
				case lookupFailed:
					logger.ErrorContext(ctx, "failed to check idempotency key", "error", err)
				}

				buf := newBufferedResponse(w)
				next.ServeHTTP(buf, r)
				res := &idempotentResult{status: buf.status, header: buf.header, body: buf.body.Bytes()}

				if lookupFailed || res.status < 200 || res.status >= 300 {
					return res
				}
				record := &idempotency.Record{
					Key:                storageKey,
					Method:             r.Method,
					Route:              r.URL.Path,
					RequestHash:        requestHash,
					ResponseHash:       idempotency.Hash(res.body),
					Status:             idempotency.StatusCompleted,
					ResponseBody:       string(res.body),
					ResponseStatusCode: res.status,
				}
				if err := cfg.Repository.Store(context.WithoutCancel(ctx), record); err != nil {
					logger.ErrorContext(ctx, "failed to store idempotency key", "error", err)
				} else {
					count(IdempotencyStored)
				}
				return res
			}

			leader := false
			v, _, _ := group.Do(storageKey, func() (interface{}, error) {
				leader = true
				res := execute()
				res.method, res.route, res.requestHash = r.Method, r.URL.Path, requestHash
				return res, nil
			})
			res := v.(*idempotentResult)

			// A caller that joined another request's flight only shares its
			// result when both sent the same request. Otherwise the key is
			// taken: replay a stored response matching this request, or reject.
			if !leader && !res.sameRequest(r.Method, r.URL.Path, requestHash) {
				res = &idempotentResult{reused: true}
				if existing, err := cfg.Repository.Get(ctx, storageKey); err == nil && existing.Matches(r.Method, r.URL.Path, requestHash) {
					res = replayRecord(existing)
				}
			}

			if res.reused {
				count(IdempotencyRejected)
				writeError(w, ctx, http.StatusUnprocessableEntity, "idempotency_key_reused",
					"Idempotency-Key was already used with a different request")
				return
			}
			replayed := res.replayed || !leader
			if replayed {
				count(IdempotencyReplayed)
				logger.InfoContext(ctx, "idempotency key replayed", "status", res.status)
			}

			for k, vs := range res.header {
				w.Header()[k] = append([]string(nil), vs...)
			}
			if replayed {
				w.Header().Set(IdempotencyReplayedHeader, "true")
			}
			w.WriteHeader(res.status)
			_, _ = w.Write(res.body)
		})
	}
}
