package api

import "net/http"

// Routes groups the handlers mounted on the promorank mux.
type Routes struct {
	Ranking   *RankingHandlers
	Promotion *PromotionHandlers
	Audit     *AuditHandlers
	Health    *HealthHandlers
	Metrics   http.Handler

	// Read wraps public read routes and Write wraps operator writes. Nil
	// means no extra middleware.
	Read  func(http.Handler) http.Handler
	Write func(http.Handler) http.Handler
}

// NewMux registers every route on a new ServeMux. Unknown paths get the
// standard JSON 404.
func NewMux(rt Routes) *http.ServeMux {
	read := rt.Read
	if read == nil {
		read = passThrough
	}
	write := rt.Write
	if write == nil {
		write = passThrough
	}

	mux := http.NewServeMux()

	mux.Handle("GET /scopes", read(http.HandlerFunc(rt.Ranking.ListScopes)))
	mux.Handle("GET /scopes/{scope}/ranking", read(http.HandlerFunc(rt.Ranking.GetRanking)))
	mux.Handle("GET /plans", read(http.HandlerFunc(rt.Ranking.ListPlans)))

	mux.Handle("GET /scopes/{scope}/manual/{productID}", write(http.HandlerFunc(rt.Promotion.GetPlacement)))
	mux.Handle("POST /scopes/{scope}/manual", write(http.HandlerFunc(rt.Promotion.SaveManualBatch)))
	mux.Handle("DELETE /scopes/{scope}/manual/{productID}", write(http.HandlerFunc(rt.Promotion.DisableManual)))
	mux.Handle("POST /scopes/{scope}/boosts", write(http.HandlerFunc(rt.Promotion.Boost)))
	mux.Handle("DELETE /scopes/{scope}/boosts/{productID}", write(http.HandlerFunc(rt.Promotion.CancelBoost)))

	if rt.Audit != nil {
		mux.Handle("GET /scopes/{scope}/audit", write(http.HandlerFunc(rt.Audit.Export)))
		mux.Handle("GET /audit/verify", write(http.HandlerFunc(rt.Audit.Verify)))
	}

	if rt.Health != nil {
		mux.HandleFunc("GET /health", rt.Health.Health)
		mux.HandleFunc("GET /ready", rt.Health.Ready)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	mux.HandleFunc("/", NotFound)
	return mux
}

// NotFound writes the standard JSON 404.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
}

func passThrough(h http.Handler) http.Handler { return h }
