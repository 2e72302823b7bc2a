package audit

import (
	"context"
	"log/slog"

	"github.com/onnwee/promorank/internal/middleware"
)

// Recorder appends entries for completed writes, filling the operator and
// request ID from the request context.
//
// Writes have already been committed when they are recorded, so a failed
// append is logged and swallowed rather than reported to the caller.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil *Recorder records nothing.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record appends entry.
func (r *Recorder) Record(ctx context.Context, entry LogEntry) {
	if r == nil || r.repo == nil {
		return
	}
	if entry.OperatorID == "" {
		entry.OperatorID = middleware.GetOperatorID(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = middleware.GetRequestID(ctx)
	}
	if _, err := r.repo.Append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "failed to append audit entry",
			"action", entry.Action,
			"scope", entry.Scope,
			"product_id", entry.ProductID,
			"error", err)
	}
}

// Repository returns the underlying repository.
func (r *Recorder) Repository() Repository {
	if r == nil {
		return nil
	}
	return r.repo
}
