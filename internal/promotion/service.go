// Package promotion implements the operator-facing promotion operations:
// atomic manual placement batches and fixed-plan boosts.
package promotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/promorank/internal/audit"
	"github.com/onnwee/promorank/internal/placement"
)

// MaxDurationMinutes caps a single placement window at one year.
const MaxDurationMinutes = 366 * 24 * 60

// Override is one entry of a manual placement batch.
type Override struct {
	ProductID string `json:"product_id"`
	// Position is the advisory rank inside the manual subset. Values below 1
	// default to the entry's 1-based index in the batch.
	Position int `json:"position"`
	Days     int `json:"days"`
	Hours    int `json:"hours"`
	Minutes  int `json:"minutes"`
}

// DurationMinutes converts a days/hours/minutes triple into whole minutes.
// Negative components and totals under one minute are rejected.
func DurationMinutes(days, hours, minutes int) (int, error) {
	if days < 0 || hours < 0 || minutes < 0 {
		return 0, fmt.Errorf("%w: components must not be negative", placement.ErrInvalidDuration)
	}
	if days > MaxDurationMinutes/1440 || hours > MaxDurationMinutes/60 || minutes > MaxDurationMinutes {
		return 0, fmt.Errorf("%w: longer than %d days", placement.ErrInvalidDuration, MaxDurationMinutes/1440)
	}
	total := days*1440 + hours*60 + minutes
	if total < 1 {
		return 0, placement.ErrInvalidDuration
	}
	if total > MaxDurationMinutes {
		return 0, fmt.Errorf("%w: longer than %d days", placement.ErrInvalidDuration, MaxDurationMinutes/1440)
	}
	return total, nil
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Logger *slog.Logger
	// PlanMinutes overrides plan durations, keyed by plan. Used by staging
	// environments that need boosts to lapse quickly.
	PlanMinutes map[placement.Plan]int
	// Audit records every attempted write. Nil disables the trail.
	Audit *audit.Recorder
}

// Service applies promotion operations through a placement.Manager.
// It never retries writes; a failed write is reported to the caller.
type Service struct {
	manager     *placement.Manager
	logger      *slog.Logger
	planMinutes map[placement.Plan]int
	audit       *audit.Recorder
}

// NewService creates a Service.
func NewService(manager *placement.Manager, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	minutes := make(map[placement.Plan]int, len(cfg.PlanMinutes))
	for plan, m := range cfg.PlanMinutes {
		minutes[plan] = m
	}
	return &Service{
		manager:     manager,
		logger:      cfg.Logger,
		planMinutes: minutes,
		audit:       cfg.Audit,
	}
}

// ApplyBatch replaces the placement of every product in overrides with a new
// ad-hoc window starting now. When resetOthers is set every other placement
// of the scope is removed in the same atomic write. When baseRevision is set
// the batch fails with ErrConflict if the scope changed since that revision.
// Every entry is validated before anything is written.
func (s *Service) ApplyBatch(ctx context.Context, scope string, overrides []Override, resetOthers bool, baseRevision *int64) (placement.BatchResult, error) {
	result, err := s.applyBatch(ctx, scope, overrides, resetOthers, baseRevision)
	s.manager.Observe(placement.OpBatch, err)
	if normalized, nerr := placement.NormalizeScope(scope); nerr == nil && s.audit != nil {
		entry := audit.LogEntry{Action: audit.ActionManualBatch, Scope: normalized}
		if err == nil {
			entry.Revision = result.Revision
			entry.Detail = fmt.Sprintf("applied=%d superseded=%d removed=%d reset_others=%t",
				result.Applied, result.Superseded, result.Removed, resetOthers)
		}
		s.record(ctx, entry, err)
	}
	return result, err
}

func (s *Service) applyBatch(ctx context.Context, scope string, overrides []Override, resetOthers bool, baseRevision *int64) (placement.BatchResult, error) {
	normalized, err := placement.NormalizeScope(scope)
	if err != nil {
		return placement.BatchResult{}, err
	}
	if len(overrides) == 0 {
		return placement.BatchResult{}, placement.ErrEmptyBatch
	}

	now := s.manager.Clock().Now()
	placements := make([]placement.Placement, 0, len(overrides))
	for i, o := range overrides {
		minutes, err := DurationMinutes(o.Days, o.Hours, o.Minutes)
		if err != nil {
			return placement.BatchResult{}, fmt.Errorf("product %s: %w", o.ProductID, err)
		}
		position := o.Position
		if position < 1 {
			position = i + 1
		}
		p, err := placement.NewPlacement(o.ProductID, normalized, position, minutes, placement.PlanNone, now)
		if err != nil {
			return placement.BatchResult{}, err
		}
		placements = append(placements, p)
	}

	result, err := s.manager.Store().ApplyBatch(ctx, placement.BatchWrite{
		Scope:            normalized,
		Placements:       placements,
		ResetOthers:      resetOthers,
		ExpectedRevision: baseRevision,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "manual batch rejected",
			"scope", normalized,
			"entries", len(placements),
			"reset_others", resetOthers,
			"error", err)
		return placement.BatchResult{}, err
	}

	s.logger.InfoContext(ctx, "manual batch applied",
		"scope", normalized,
		"applied", result.Applied,
		"superseded", result.Superseded,
		"removed", result.Removed,
		"reset_others", resetOthers,
		"revision", result.Revision)
	return result, nil
}

// Boost places productID for the duration of the named plan.
// It supersedes any existing placement of the product in scope.
func (s *Service) Boost(ctx context.Context, productID, scope, planKey string) (placement.Placement, error) {
	plan, err := placement.ParsePlan(planKey)
	if err != nil {
		return placement.Placement{}, err
	}
	minutes := plan.DurationMinutes()
	if m, ok := s.planMinutes[plan]; ok && m > 0 {
		minutes = m
	}
	p, err := s.manager.Create(ctx, productID, scope, minutes, plan)
	s.recordSingle(ctx, audit.ActionBoost, productID, scope, string(plan), err)
	return p, err
}

// CancelBoost removes the boost of a product. Missing boosts are not an error.
func (s *Service) CancelBoost(ctx context.Context, productID, scope string) error {
	err := s.manager.Cancel(ctx, productID, scope)
	s.recordSingle(ctx, audit.ActionBoostCancel, productID, scope, "", err)
	return err
}

// DisableManual removes the manual placement of a product. It is idempotent.
func (s *Service) DisableManual(ctx context.Context, productID, scope string) error {
	err := s.manager.Disable(ctx, productID, scope)
	s.recordSingle(ctx, audit.ActionManualDisable, productID, scope, "", err)
	return err
}

// Placement returns the stored placement of a product, or ErrNotFound.
func (s *Service) Placement(ctx context.Context, productID, scope string) (*placement.Placement, error) {
	normalized, err := placement.NormalizeScope(scope)
	if err != nil {
		return nil, err
	}
	if err := placement.ValidateProductID(productID); err != nil {
		return nil, err
	}
	return s.manager.Store().Get(ctx, normalized, productID)
}

// recordSingle audits a single-product write. Writes rejected before the
// scope could be resolved are not recorded.
func (s *Service) recordSingle(ctx context.Context, action, productID, scope, detail string, err error) {
	if s.audit == nil {
		return
	}
	normalized, nerr := placement.NormalizeScope(scope)
	if nerr != nil {
		return
	}
	entry := audit.LogEntry{Action: action, Scope: normalized, ProductID: productID, Detail: detail}
	if err == nil {
		rev, rerr := s.manager.Store().Revision(ctx, normalized)
		if rerr == nil {
			entry.Revision = rev
		}
	}
	s.record(ctx, entry, err)
}

func (s *Service) record(ctx context.Context, entry audit.LogEntry, err error) {
	entry.Outcome = audit.OutcomeSuccess
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Detail = err.Error()
	}
	s.audit.Record(ctx, entry)
}
