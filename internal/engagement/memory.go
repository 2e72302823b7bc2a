package engagement

import (
	"context"
	"sort"
	"sync"
)

// InMemorySource is an in-memory implementation of Source.
// Used for development and tests.
type InMemorySource struct {
	mu       sync.RWMutex
	products map[string]Snapshot
}

// NewInMemorySource creates an empty in-memory source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		products: make(map[string]Snapshot),
	}
}

// Put adds or replaces the snapshot of a product.
func (s *InMemorySource) Put(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[snap.ProductID] = copySnapshot(snap)
}

// SetStatus changes the status of a product. Unknown products are ignored.
func (s *InMemorySource) SetStatus(productID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.products[productID]; ok {
		snap.Status = status
		s.products[productID] = snap
	}
}

// ListByScope returns the records of a scope ordered by product ID.
func (s *InMemorySource) ListByScope(ctx context.Context, scope string) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Snapshot{}
	for _, snap := range s.products {
		if snap.Scope == scope {
			out = append(out, copySnapshot(snap))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ListScopes returns every scope with at least one record, sorted by scope.
func (s *InMemorySource) ListScopes(ctx context.Context) ([]ScopeCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, snap := range s.products {
		if _, ok := counts[snap.Scope]; !ok {
			counts[snap.Scope] = 0
		}
		if snap.Rankable() {
			counts[snap.Scope]++
		}
	}

	out := make([]ScopeCount, 0, len(counts))
	for scope, n := range counts {
		out = append(out, ScopeCount{Scope: scope, Products: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func copySnapshot(s Snapshot) Snapshot {
	cp := s
	if s.LastClickedAt != nil {
		t := *s.LastClickedAt
		cp.LastClickedAt = &t
	}
	if s.LastViewedAt != nil {
		t := *s.LastViewedAt
		cp.LastViewedAt = &t
	}
	if s.SellerRatingAvg != nil {
		r := *s.SellerRatingAvg
		cp.SellerRatingAvg = &r
	}
	return cp
}
