package placement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists manual placements. Implementations hold at most one
// placement per (scope, product) and serialize writes per scope.
type Store interface {
	// Get returns the placement for a product, or ErrNotFound.
	Get(ctx context.Context, scope, productID string) (*Placement, error)
	// ListByScope returns every placement of a scope, including expired ones.
	ListByScope(ctx context.Context, scope string) ([]Placement, error)
	// Revision returns the scope revision. Unknown scopes are at revision 0.
	Revision(ctx context.Context, scope string) (int64, error)
	// Scopes returns every scope that holds at least one placement.
	Scopes(ctx context.Context) ([]string, error)
	// Upsert stores p, replacing any existing placement for the same slot.
	Upsert(ctx context.Context, p Placement) (WriteResult, error)
	// Delete removes a placement. Deleting a missing placement is not an error.
	Delete(ctx context.Context, scope, productID string) (WriteResult, error)
	// ApplyBatch atomically writes a batch. Either every change is applied or none is.
	ApplyBatch(ctx context.Context, batch BatchWrite) (BatchResult, error)
	// MarkExpired stamps ExpiredMarkedAt on placements whose window elapsed
	// before now. It never deletes. Returns the number of newly marked rows.
	MarkExpired(ctx context.Context, scope string, now time.Time) (int, error)
}

// WriteResult reports the outcome of a single-slot write.
type WriteResult struct {
	// Changed is true when a placement was replaced (Upsert) or removed (Delete).
	Changed  bool
	Revision int64
}

// BatchWrite is an atomic set of placement replacements for one scope.
type BatchWrite struct {
	Scope      string
	Placements []Placement
	// ResetOthers removes every placement of the scope not present in Placements.
	ResetOthers bool
	// ExpectedRevision, when set, must equal the scope revision or the batch
	// fails with ErrConflict.
	ExpectedRevision *int64
}

// BatchResult summarizes an applied batch.
type BatchResult struct {
	Revision   int64 `json:"revision"`
	Applied    int   `json:"applied"`
	Superseded int   `json:"superseded"`
	Removed    int   `json:"removed"`
}

// scopeState holds the placements of one scope. Its mutex serializes writers.
type scopeState struct {
	mu         sync.RWMutex
	revision   int64
	placements map[string]Placement
}

// InMemoryStore is an in-memory implementation of Store.
// Used for development and tests. Writes to different scopes run in parallel.
type InMemoryStore struct {
	mu     sync.Mutex
	scopes map[string]*scopeState
}

// NewInMemoryStore creates an empty in-memory placement store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		scopes: make(map[string]*scopeState),
	}
}

// scope returns the state for a scope, creating it when create is true.
func (s *InMemoryStore) scope(scope string, create bool) *scopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scopes[scope]
	if !ok && create {
		st = &scopeState{placements: make(map[string]Placement)}
		s.scopes[scope] = st
	}
	return st
}

// Get returns the placement for a product, or ErrNotFound.
func (s *InMemoryStore) Get(ctx context.Context, scope, productID string) (*Placement, error) {
	st := s.scope(scope, false)
	if st == nil {
		return nil, ErrNotFound
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.placements[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyPlacement(p)
	return &cp, nil
}

// ListByScope returns every placement of a scope ordered by product ID.
func (s *InMemoryStore) ListByScope(ctx context.Context, scope string) ([]Placement, error) {
	st := s.scope(scope, false)
	if st == nil {
		return []Placement{}, nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Placement, 0, len(st.placements))
	for _, p := range st.placements {
		out = append(out, copyPlacement(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Revision returns the scope revision.
func (s *InMemoryStore) Revision(ctx context.Context, scope string) (int64, error) {
	st := s.scope(scope, false)
	if st == nil {
		return 0, nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.revision, nil
}

// Scopes returns every scope holding at least one placement, sorted.
func (s *InMemoryStore) Scopes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	states := make(map[string]*scopeState, len(s.scopes))
	for name, st := range s.scopes {
		states[name] = st
	}
	s.mu.Unlock()

	out := make([]string, 0, len(states))
	for name, st := range states {
		st.mu.RLock()
		n := len(st.placements)
		st.mu.RUnlock()
		if n > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Upsert stores p, superseding any existing placement for the slot.
func (s *InMemoryStore) Upsert(ctx context.Context, p Placement) (WriteResult, error) {
	if err := p.Validate(); err != nil {
		return WriteResult{}, err
	}
	st := s.scope(p.Scope, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	_, existed := st.placements[p.ProductID]
	st.placements[p.ProductID] = copyPlacement(p)
	st.revision++
	return WriteResult{Changed: existed, Revision: st.revision}, nil
}

// Delete removes a placement. Missing placements are a no-op.
func (s *InMemoryStore) Delete(ctx context.Context, scope, productID string) (WriteResult, error) {
	st := s.scope(scope, false)
	if st == nil {
		return WriteResult{}, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.placements[productID]; !ok {
		return WriteResult{Revision: st.revision}, nil
	}
	delete(st.placements, productID)
	st.revision++
	return WriteResult{Changed: true, Revision: st.revision}, nil
}

// ApplyBatch validates the whole batch, then applies it under the scope lock.
func (s *InMemoryStore) ApplyBatch(ctx context.Context, batch BatchWrite) (BatchResult, error) {
	if err := validateBatch(batch); err != nil {
		return BatchResult{}, err
	}

	st := s.scope(batch.Scope, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if batch.ExpectedRevision != nil && *batch.ExpectedRevision != st.revision {
		return BatchResult{}, fmt.Errorf("%w: expected revision %d, current %d",
			ErrConflict, *batch.ExpectedRevision, st.revision)
	}

	// Build the next state on a copy and swap it in, so a failure part-way
	// can never leave a partially applied batch behind.
	next := make(map[string]Placement, len(st.placements)+len(batch.Placements))
	for id, p := range st.placements {
		next[id] = p
	}

	var result BatchResult
	inBatch := make(map[string]bool, len(batch.Placements))
	for _, p := range batch.Placements {
		if _, ok := next[p.ProductID]; ok {
			result.Superseded++
		}
		next[p.ProductID] = copyPlacement(p)
		inBatch[p.ProductID] = true
		result.Applied++
	}

	if batch.ResetOthers {
		for id := range next {
			if !inBatch[id] {
				delete(next, id)
				result.Removed++
			}
		}
	}

	st.placements = next
	st.revision++
	result.Revision = st.revision
	return result, nil
}

// MarkExpired stamps newly elapsed placements of a scope.
func (s *InMemoryStore) MarkExpired(ctx context.Context, scope string, now time.Time) (int, error) {
	st := s.scope(scope, false)
	if st == nil {
		return 0, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	marked := 0
	for id, p := range st.placements {
		if p.Expired(now) && p.ExpiredMarkedAt == nil {
			ts := now.UTC()
			p.ExpiredMarkedAt = &ts
			st.placements[id] = p
			marked++
		}
	}
	return marked, nil
}

// validateBatch checks every placement before anything is written.
func validateBatch(batch BatchWrite) error {
	if len(batch.Placements) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]bool, len(batch.Placements))
	for _, p := range batch.Placements {
		if p.Scope != batch.Scope {
			return fmt.Errorf("%w: placement for %s belongs to scope %s", ErrInvalidScope, p.ProductID, p.Scope)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ProductID] {
			return fmt.Errorf("%w: %s", ErrDuplicateProduct, p.ProductID)
		}
		seen[p.ProductID] = true
	}
	return nil
}

// copyPlacement returns a deep copy of p.
func copyPlacement(p Placement) Placement {
	cp := p
	if p.ExpiredMarkedAt != nil {
		ts := *p.ExpiredMarkedAt
		cp.ExpiredMarkedAt = &ts
	}
	return cp
}
