package placement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"
)

// Manager implements the single-slot placement operations on top of a Store.
type Manager struct {
	store   Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewManager creates a Manager over store.
func NewManager(store Store, cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:   store,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Store returns the underlying placement store.
func (m *Manager) Store() Store {
	return m.store
}

// Clock returns the manager's time source.
func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// Create places productID in scope for durationMinutes starting now.
// An existing placement for the same slot is superseded, whatever its state.
func (m *Manager) Create(ctx context.Context, productID, scope string, durationMinutes int, plan Plan) (Placement, error) {
	if plan != PlanNone && !plan.IsBoost() {
		m.observe(OpCreate, ErrUnknownPlan)
		return Placement{}, ErrUnknownPlan
	}
	p, err := NewPlacement(productID, scope, 1, durationMinutes, plan, m.clock.Now())
	if err != nil {
		m.observe(OpCreate, err)
		return Placement{}, err
	}

	res, err := m.store.Upsert(ctx, p)
	m.observe(OpCreate, err)
	if err != nil {
		return Placement{}, err
	}

	m.logger.InfoContext(ctx, "placement created",
		"scope", p.Scope,
		"product_id", p.ProductID,
		"plan", string(p.Plan),
		"expires_at", p.ExpiresAt,
		"superseded", res.Changed,
		"revision", res.Revision)
	return p, nil
}

// Disable removes the placement for a product. It is idempotent.
func (m *Manager) Disable(ctx context.Context, productID, scope string) error {
	return m.remove(ctx, OpDisable, productID, scope)
}

// Cancel removes an operator's boost. It converges on the same store
// operation as Disable and is recorded separately.
func (m *Manager) Cancel(ctx context.Context, productID, scope string) error {
	return m.remove(ctx, OpCancel, productID, scope)
}

func (m *Manager) remove(ctx context.Context, op, productID, scope string) error {
	normalized, err := NormalizeScope(scope)
	if err != nil {
		return err
	}
	if err := ValidateProductID(productID); err != nil {
		return err
	}

	res, err := m.store.Delete(ctx, normalized, productID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.observe(op, err)
		return err
	}
	if !res.Changed {
		if m.metrics != nil {
			m.metrics.IncWrite(op, "noop")
		}
		m.logger.DebugContext(ctx, "placement removal was a no-op",
			"operation", op,
			"scope", normalized,
			"product_id", productID)
		return nil
	}

	m.observe(op, nil)
	m.logger.InfoContext(ctx, "placement removed",
		"operation", op,
		"scope", normalized,
		"product_id", productID,
		"revision", res.Revision)
	return nil
}

// observe records the outcome of a write.
func (m *Manager) observe(op string, err error) {
	if m.metrics == nil {
		return
	}
	switch {
	case err == nil:
		m.metrics.IncWrite(op, "ok")
	case errors.Is(err, ErrConflict):
		m.metrics.IncConflict()
		m.metrics.IncWrite(op, "conflict")
	case IsValidation(err):
		m.metrics.IncWrite(op, "invalid")
	default:
		m.metrics.IncWrite(op, "error")
	}
}

// Observe records the outcome of a write performed outside the Manager,
// such as a batch applied directly against the store.
func (m *Manager) Observe(op string, err error) {
	m.observe(op, err)
}
