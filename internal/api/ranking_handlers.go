package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/promorank/internal/placement"
	"github.com/onnwee/promorank/internal/ranking"
)

// Ranking page size bounds.
const (
	DefaultRankingLimit = 100
	MaxRankingLimit     = 1000
)

// Ranker computes scope rankings. It is satisfied by *ranking.Aggregator.
type Ranker interface {
	Rank(ctx context.Context, scope string, now time.Time) (*ranking.Ranking, error)
	Scopes(ctx context.Context) ([]ranking.ScopeSummary, error)
}

// RankingHandlers serves the read side of the engine.
type RankingHandlers struct {
	ranker Ranker
	clock  clock.Clock
}

// NewRankingHandlers creates RankingHandlers. A nil clock uses wall time.
func NewRankingHandlers(ranker Ranker, clk clock.Clock) *RankingHandlers {
	if clk == nil {
		clk = clock.New()
	}
	return &RankingHandlers{ranker: ranker, clock: clk}
}

// ScopesResponse is the body of GET /scopes.
type ScopesResponse struct {
	Scopes []ranking.ScopeSummary `json:"scopes"`
}

// PlansResponse is the body of GET /plans.
type PlansResponse struct {
	Plans []placement.PlanSpec `json:"plans"`
}

// GetRanking handles GET /scopes/{scope}/ranking?limit=N.
func (h *RankingHandlers) GetRanking(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidLimit,
			"limit must be an integer between 1 and "+strconv.Itoa(MaxRankingLimit))
		return
	}

	rk, err := h.ranker.Rank(r.Context(), r.PathValue("scope"), h.clock.Now())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, rk.Limit(limit))
}

// ListScopes handles GET /scopes.
func (h *RankingHandlers) ListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.ranker.Scopes(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if scopes == nil {
		scopes = []ranking.ScopeSummary{}
	}
	writeJSON(w, r.Context(), http.StatusOK, ScopesResponse{Scopes: scopes})
}

// ListPlans handles GET /plans.
func (h *RankingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, PlansResponse{Plans: placement.Plans()})
}

func parseLimit(raw string) (int, bool) {
	if raw == "" {
		return DefaultRankingLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxRankingLimit {
		return 0, false
	}
	return n, true
}
