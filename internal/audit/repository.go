package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	// ErrInvalidAction is returned when an entry names an unknown action.
	ErrInvalidAction = errors.New("unknown audit action")
	// ErrInvalidOutcome is returned when an entry has an unknown outcome.
	ErrInvalidOutcome = errors.New("unknown audit outcome")
	// ErrMissingScope is returned when an entry has no scope.
	ErrMissingScope = errors.New("audit entry scope cannot be empty")
)

var validActions = map[string]bool{
	ActionManualBatch:   true,
	ActionManualDisable: true,
	ActionBoost:         true,
	ActionBoostCancel:   true,
}

func validateLogEntry(entry LogEntry) error {
	if !validActions[entry.Action] {
		return ErrInvalidAction
	}
	if entry.Outcome != OutcomeSuccess && entry.Outcome != OutcomeFailure {
		return ErrInvalidOutcome
	}
	if entry.Scope == "" {
		return ErrMissingScope
	}
	return nil
}

// Repository stores audit entries.
type Repository interface {
	// Append validates entry, links it to the current chain head and stores it.
	Append(ctx context.Context, entry LogEntry) (*Entry, error)

	// QueryByScope returns entries for scope, newest first.
	// A limit of 0 means no limit.
	QueryByScope(ctx context.Context, scope string, limit int) ([]*Entry, error)

	// All returns every entry in append order.
	All(ctx context.Context) ([]*Entry, error)
}

// InMemoryRepository is a Repository for tests and single-process
// deployments. It is safe for concurrent use.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
	clock   clock.Clock
}

// NewInMemoryRepository creates an empty repository. A nil clock uses wall time.
func NewInMemoryRepository(clk clock.Clock) *InMemoryRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &InMemoryRepository{clock: clk}
}

// Append stores a new entry.
func (r *InMemoryRepository) Append(_ context.Context, entry LogEntry) (*Entry, error) {
	if err := validateLogEntry(entry); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &Entry{
		ID:         uuid.NewString(),
		OperatorID: entry.OperatorID,
		Action:     entry.Action,
		Scope:      entry.Scope,
		ProductID:  entry.ProductID,
		Outcome:    entry.Outcome,
		Revision:   entry.Revision,
		Detail:     entry.Detail,
		RequestID:  entry.RequestID,
		CreatedAt:  r.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if n := len(r.entries); n > 0 {
		e.PreviousHash = r.entries[n-1].Hash()
	}
	r.entries = append(r.entries, e)

	out := *e
	return &out, nil
}

// QueryByScope returns copies of the entries for scope, newest first.
func (r *InMemoryRepository) QueryByScope(_ context.Context, scope string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Scope != scope {
			continue
		}
		e := *r.entries[i]
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// All returns copies of every entry in append order.
func (r *InMemoryRepository) All(context.Context) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, len(r.entries))
	for i, e := range r.entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}
