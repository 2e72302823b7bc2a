package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/promorank/internal/audit"
	"github.com/onnwee/promorank/internal/placement"
)

// AuditHandlers serves the operator audit trail.
type AuditHandlers struct {
	repo audit.Repository
}

// NewAuditHandlers creates AuditHandlers over repo.
func NewAuditHandlers(repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// VerifyResponse is the body of GET /audit/verify.
type VerifyResponse struct {
	Intact   bool   `json:"intact"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
}

// Export handles GET /scopes/{scope}/audit?format=json|csv&limit=N&from=&to=.
// from and to are RFC 3339 timestamps.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	scope, err := placement.NormalizeScope(r.PathValue("scope"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	opts := audit.ExportOptions{Format: audit.ExportFormatJSON, Scope: scope}
	if f := q.Get("format"); f != "" {
		opts.Format = audit.ExportFormat(f)
	}
	if opts.Format != audit.ExportFormatJSON && opts.Format != audit.ExportFormatCSV {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "format must be json or csv")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidLimit, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &opts.From}, {"to", &opts.To}} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, bound.name+" must be an RFC 3339 timestamp")
			return
		}
		*bound.dst = ts
	}

	data, err := audit.Export(r.Context(), h.repo, opts)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	contentType := "application/json"
	if opts.Format == audit.ExportFormatCSV {
		contentType = "text/csv; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Verify handles GET /audit/verify. A broken chain is reported in the body
// with status 200; the request itself succeeded.
func (h *AuditHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.All(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	resp := VerifyResponse{Intact: true, Entries: len(entries)}
	if i := audit.VerifyChain(entries); i >= 0 {
		resp.Intact = false
		resp.BrokenAt = entries[i].ID
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}
