package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/promorank/internal/placement"
	"github.com/onnwee/promorank/internal/promotion"
)

// maxRequestBody bounds operator request bodies.
const maxRequestBody = 1 << 20

// Promoter applies operator writes. It is satisfied by *promotion.Service.
type Promoter interface {
	ApplyBatch(ctx context.Context, scope string, overrides []promotion.Override, resetOthers bool, baseRevision *int64) (placement.BatchResult, error)
	Boost(ctx context.Context, productID, scope, planKey string) (placement.Placement, error)
	CancelBoost(ctx context.Context, productID, scope string) error
	DisableManual(ctx context.Context, productID, scope string) error
	Placement(ctx context.Context, productID, scope string) (*placement.Placement, error)
}

// PromotionHandlers serves operator placement and boost routes.
type PromotionHandlers struct {
	promoter Promoter
	clock    clock.Clock
}

// NewPromotionHandlers creates PromotionHandlers. A nil clock uses wall time.
func NewPromotionHandlers(promoter Promoter, clk clock.Clock) *PromotionHandlers {
	if clk == nil {
		clk = clock.New()
	}
	return &PromotionHandlers{promoter: promoter, clock: clk}
}

// SaveManualRequest is the body of POST /scopes/{scope}/manual.
type SaveManualRequest struct {
	Overrides   []promotion.Override `json:"overrides"`
	ResetOthers bool                 `json:"reset_others"`
	// BaseRevision, when set, rejects the batch with 409 if the scope
	// changed since the caller read it.
	BaseRevision *int64 `json:"base_revision,omitempty"`
}

// SaveManualResponse is the body returned by a successful batch.
type SaveManualResponse struct {
	OK         bool  `json:"ok"`
	Revision   int64 `json:"revision"`
	Applied    int   `json:"applied"`
	Superseded int   `json:"superseded"`
	Removed    int   `json:"removed"`
}

// BoostRequest is the body of POST /scopes/{scope}/boosts.
type BoostRequest struct {
	ProductID string `json:"product_id"`
	Plan      string `json:"plan"`
}

// RemoveResponse is returned by the idempotent DELETE routes.
type RemoveResponse struct {
	OK bool `json:"ok"`
}

// PlacementResponse describes one stored placement and its state now.
type PlacementResponse struct {
	placement.Placement
	State            placement.State `json:"state"`
	RemainingSeconds int64           `json:"remaining_seconds"`
}

func (h *PromotionHandlers) placementResponse(p placement.Placement) PlacementResponse {
	now := h.clock.Now()
	remaining := p.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return PlacementResponse{
		Placement:        p,
		State:            p.State(now),
		RemainingSeconds: int64(remaining / time.Second),
	}
}

// decodeBody reads a JSON body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r.Context(), http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return false
		}
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// SaveManualBatch handles POST /scopes/{scope}/manual.
func (h *PromotionHandlers) SaveManualBatch(w http.ResponseWriter, r *http.Request) {
	var req SaveManualRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.promoter.ApplyBatch(r.Context(), r.PathValue("scope"), req.Overrides, req.ResetOthers, req.BaseRevision)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, SaveManualResponse{
		OK:         true,
		Revision:   res.Revision,
		Applied:    res.Applied,
		Superseded: res.Superseded,
		Removed:    res.Removed,
	})
}

// GetPlacement handles GET /scopes/{scope}/manual/{productID}.
func (h *PromotionHandlers) GetPlacement(w http.ResponseWriter, r *http.Request) {
	p, err := h.promoter.Placement(r.Context(), r.PathValue("productID"), r.PathValue("scope"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.placementResponse(*p))
}

// DisableManual handles DELETE /scopes/{scope}/manual/{productID}.
// Removing a missing placement succeeds.
func (h *PromotionHandlers) DisableManual(w http.ResponseWriter, r *http.Request) {
	if err := h.promoter.DisableManual(r.Context(), r.PathValue("productID"), r.PathValue("scope")); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, RemoveResponse{OK: true})
}

// Boost handles POST /scopes/{scope}/boosts.
func (h *PromotionHandlers) Boost(w http.ResponseWriter, r *http.Request) {
	var req BoostRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.promoter.Boost(r.Context(), req.ProductID, r.PathValue("scope"), req.Plan)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, h.placementResponse(p))
}

// CancelBoost handles DELETE /scopes/{scope}/boosts/{productID}.
// Cancelling a missing boost succeeds.
func (h *PromotionHandlers) CancelBoost(w http.ResponseWriter, r *http.Request) {
	if err := h.promoter.CancelBoost(r.Context(), r.PathValue("productID"), r.PathValue("scope")); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, RemoveResponse{OK: true})
}
