package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/promorank/internal/engagement"
	"github.com/onnwee/promorank/internal/placement"
	"github.com/onnwee/promorank/internal/tracing"
)

// Entry is one product in a ranking.
type Entry struct {
	ProductID string  `json:"product_id"`
	Position  int     `json:"position"`
	Score     float64 `json:"score"`

	ManualActive    bool           `json:"manual_active"`
	ManualExpired   bool           `json:"manual_expired"`
	ManualExpiresAt *time.Time     `json:"manual_expires_at"`
	ManualPlan      placement.Plan `json:"manual_plan_key,omitempty"`
	ManualPosition  int            `json:"manual_position,omitempty"`
}

// Ranking is the ordered output for one scope.
type Ranking struct {
	Scope       string    `json:"scope"`
	Revision    int64     `json:"revision"`
	GeneratedAt time.Time `json:"generated_at"`
	// Total counts every ranked product, before any limit.
	Total   int     `json:"total"`
	Entries []Entry `json:"entries"`
}

// Limit returns a copy of r holding at most n entries. Total is unchanged.
func (r *Ranking) Limit(n int) *Ranking {
	out := *r
	if n >= 0 && n < len(r.Entries) {
		out.Entries = r.Entries[:n]
	}
	out.Entries = append([]Entry(nil), out.Entries...)
	return &out
}

// ScopeSummary describes a scope known to either the catalog or the
// placement store.
type ScopeSummary struct {
	Scope    string `json:"scope"`
	Products int    `json:"products"`
	Revision int64  `json:"revision"`
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	Weights *Weights
	Logger  *slog.Logger
	Metrics *Metrics
}

// Aggregator merges manual placements with score-ranked products.
// It never writes: expiry is evaluated against now on every read.
type Aggregator struct {
	source     engagement.Source
	placements placement.Store
	weights    *Weights
	logger     *slog.Logger
	metrics    *Metrics
	group      singleflight.Group
}

// NewAggregator creates an Aggregator.
func NewAggregator(source engagement.Source, placements placement.Store, cfg AggregatorConfig) *Aggregator {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Aggregator{
		source:     source,
		placements: placements,
		weights:    cfg.Weights,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Weights returns the scoring coefficients in use.
func (a *Aggregator) Weights() *Weights {
	return a.weights
}

// Rank returns the ordered products of scope at now.
//
// Identical concurrent reads of the same scope revision share one
// computation. The revision is read first, so a read that starts after a
// committed write never joins a computation of the older state. The shared
// computation is detached from the caller that started it: cancelling one
// reader returns its context error without failing the others.
func (a *Aggregator) Rank(ctx context.Context, scope string, now time.Time) (_ *Ranking, err error) {
	scope, err = placement.NormalizeScope(scope)
	if err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartSpan(ctx, "ranking.rank")
	defer func() { endSpan(err) }()

	rev, err := a.placements.Revision(ctx, scope)
	if err != nil {
		a.observe("error", 0, 0)
		return nil, err
	}
	tracing.SetAttributes(ctx, tracing.AttrScope.String(scope), tracing.AttrRevision.Int64(rev))

	key := fmt.Sprintf("%s|%d|%d", scope, rev, now.Unix())
	computeCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		return a.compute(computeCtx, scope, rev, now)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Shared {
		tracing.AddEvent(ctx, "ranking.coalesced", tracing.AttrRevision.Int64(rev))
		if a.metrics != nil {
			a.metrics.incCoalesced()
		}
	}
	if res.Err != nil {
		return nil, res.Err
	}
	// Callers may slice the result; hand each its own copy.
	return res.Val.(*Ranking).Limit(-1), nil
}

func (a *Aggregator) compute(ctx context.Context, scope string, rev int64, now time.Time) (*Ranking, error) {
	start := time.Now()

	snaps, err := a.source.ListByScope(ctx, scope)
	if err != nil {
		a.observe("error", 0, 0)
		return nil, fmt.Errorf("failed to load engagement for %s: %w", scope, err)
	}
	stored, rev, err := a.listPlacements(ctx, scope, rev)
	if err != nil {
		a.observe("error", 0, 0)
		return nil, fmt.Errorf("failed to load placements for %s: %w", scope, err)
	}

	part := placement.Classify(stored, now)
	byProduct := part.ByProduct()

	rankable := make(map[string]engagement.Snapshot, len(snaps))
	for _, s := range snaps {
		if s.Rankable() {
			rankable[s.ProductID] = s
		}
	}

	entries := make([]Entry, 0, len(rankable))
	manual := make(map[string]bool, len(part.Active))

	// Active placements arrive sorted by plan tier, position, start, product.
	for _, p := range part.Active {
		snap, ok := rankable[p.ProductID]
		if !ok {
			continue
		}
		manual[p.ProductID] = true
		entries = append(entries, a.entry(snap, &p, now))
	}

	scored := make([]Entry, 0, len(rankable)-len(manual))
	created := make(map[string]time.Time, len(rankable))
	for id, snap := range rankable {
		if manual[id] {
			continue
		}
		var pl *placement.Placement
		if p, ok := byProduct[id]; ok {
			pl = &p
		}
		scored = append(scored, a.entry(snap, pl, now))
		created[id] = snap.CreatedAt
	}
	sort.Slice(scored, func(i, j int) bool {
		x, y := scored[i], scored[j]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if cx, cy := created[x.ProductID], created[y.ProductID]; !cx.Equal(cy) {
			return cx.After(cy)
		}
		return x.ProductID < y.ProductID
	})
	entries = append(entries, scored...)

	for i := range entries {
		entries[i].Position = i + 1
	}

	elapsed := time.Since(start).Seconds()
	a.observe("success", elapsed, len(entries))
	a.logger.DebugContext(ctx, "ranking computed",
		"scope", scope,
		"revision", rev,
		"manual", len(manual),
		"total", len(entries),
		"duration_seconds", elapsed)

	return &Ranking{
		Scope:       scope,
		Revision:    rev,
		GeneratedAt: now.UTC(),
		Total:       len(entries),
		Entries:     entries,
	}, nil
}

// snapshotAttempts bounds how often listPlacements re-lists a scope that
// keeps changing underneath it.
const snapshotAttempts = 3

// listPlacements lists the placements of scope and returns the revision the
// listing was taken at. The revision is read again after listing; a write
// committed in between triggers another listing. When the scope keeps
// changing, the revision read before the last listing is returned, so a
// ranking never reports a revision newer than its placements.
func (a *Aggregator) listPlacements(ctx context.Context, scope string, rev int64) ([]placement.Placement, int64, error) {
	for attempt := 1; ; attempt++ {
		stored, err := a.placements.ListByScope(ctx, scope)
		if err != nil {
			return nil, 0, err
		}
		after, err := a.placements.Revision(ctx, scope)
		if err != nil {
			return nil, 0, err
		}
		if after == rev || attempt == snapshotAttempts {
			return stored, rev, nil
		}
		rev = after
	}
}

func (a *Aggregator) entry(snap engagement.Snapshot, p *placement.Placement, now time.Time) Entry {
	e := Entry{
		ProductID: snap.ProductID,
		Score:     Score(snap, now, a.weights),
	}
	if p != nil {
		expires := p.ExpiresAt
		e.ManualActive = p.Active(now)
		e.ManualExpired = !e.ManualActive
		e.ManualExpiresAt = &expires
		e.ManualPlan = p.Plan
		e.ManualPosition = p.Position
	}
	return e
}

// Scopes lists every scope known to the catalog or holding placements.
func (a *Aggregator) Scopes(ctx context.Context) ([]ScopeSummary, error) {
	counts, err := a.source.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagement scopes: %w", err)
	}
	placed, err := a.placements.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list placement scopes: %w", err)
	}

	byScope := make(map[string]*ScopeSummary, len(counts)+len(placed))
	for _, c := range counts {
		byScope[c.Scope] = &ScopeSummary{Scope: c.Scope, Products: c.Products}
	}
	for _, s := range placed {
		if _, ok := byScope[s]; !ok {
			byScope[s] = &ScopeSummary{Scope: s}
		}
	}

	out := make([]ScopeSummary, 0, len(byScope))
	for _, s := range byScope {
		rev, err := a.placements.Revision(ctx, s.Scope)
		if err != nil {
			return nil, err
		}
		s.Revision = rev
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func (a *Aggregator) observe(outcome string, seconds float64, entries int) {
	if a.metrics != nil {
		a.metrics.observe(outcome, seconds, entries)
	}
}
