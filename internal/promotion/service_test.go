package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/promorank/internal/audit"
	"github.com/onnwee/promorank/internal/engagement"
	"github.com/onnwee/promorank/internal/middleware"
	"github.com/onnwee/promorank/internal/placement"
	"github.com/onnwee/promorank/internal/ranking"
)

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock   *clock.Mock
	source  *engagement.InMemorySource
	store   *placement.InMemoryStore
	service *Service
	agg     *ranking.Aggregator
}

func newFixture(t *testing.T, cfg ServiceConfig) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mock := clock.NewMock()
	mock.Set(start)

	src := engagement.NewInMemorySource()
	store := placement.NewInMemoryStore()
	manager := placement.NewManager(store, placement.ManagerConfig{Clock: mock, Logger: logger})
	cfg.Logger = logger

	return &fixture{
		clock:   mock,
		source:  src,
		store:   store,
		service: NewService(manager, cfg),
		agg:     ranking.NewAggregator(src, store, ranking.AggregatorConfig{Logger: logger}),
	}
}

func (f *fixture) addProduct(id, scope string, clicks int64) {
	f.source.Put(engagement.Snapshot{
		ProductID: id,
		Scope:     scope,
		Clicks:    clicks,
		CreatedAt: start.Add(-24 * time.Hour),
		Status:    engagement.StatusActive,
	})
}

func (f *fixture) rank(t *testing.T, scope string) *ranking.Ranking {
	t.Helper()
	r, err := f.agg.Rank(context.Background(), scope, f.clock.Now())
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	return r
}

func entryFor(r *ranking.Ranking, id string) (ranking.Entry, bool) {
	for _, e := range r.Entries {
		if e.ProductID == id {
			return e, true
		}
	}
	return ranking.Entry{}, false
}

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		name                 string
		days, hours, minutes int
		want                 int
		wantErr              bool
	}{
		{name: "one minute", minutes: 1, want: 1},
		{name: "mixed", days: 1, hours: 2, minutes: 3, want: 1440 + 120 + 3},
		{name: "hours overflow minutes", hours: 25, want: 1500},
		{name: "zero", wantErr: true},
		{name: "negative", days: 1, minutes: -1, wantErr: true},
		{name: "too long", days: 400, wantErr: true},
		{name: "huge component", minutes: 1 << 40, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DurationMinutes(tt.days, tt.hours, tt.minutes)
			if tt.wantErr {
				if !errors.Is(err, placement.ErrInvalidDuration) {
					t.Fatalf("DurationMinutes() error = %v, want ErrInvalidDuration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DurationMinutes() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DurationMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBoost_RubyLandsInManualPrefix(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	f.addProduct("strong", "BR", 500)
	f.addProduct("p", "BR", 0)

	p, err := f.service.Boost(context.Background(), "p", "br", "ruby")
	if err != nil {
		t.Fatalf("Boost() error = %v", err)
	}
	if p.Plan != placement.PlanRuby {
		t.Errorf("Plan = %q, want ruby", p.Plan)
	}

	r := f.rank(t, "BR")
	e := r.Entries[0]
	if e.ProductID != "p" || !e.ManualActive || e.ManualExpired {
		t.Fatalf("first entry = %+v, want active boost of p", e)
	}
	if want := start.Add(45 * 24 * time.Hour); e.ManualExpiresAt == nil || !e.ManualExpiresAt.Equal(want) {
		t.Errorf("ManualExpiresAt = %v, want %v", e.ManualExpiresAt, want)
	}
}

func TestBoost_ExpiresAfterShortTestDuration(t *testing.T) {
	f := newFixture(t, ServiceConfig{PlanMinutes: map[placement.Plan]int{placement.PlanEmerald: 1}})
	f.addProduct("strong", "BR", 500)
	f.addProduct("p", "BR", 3)

	if _, err := f.service.Boost(context.Background(), "p", "BR", "emerald"); err != nil {
		t.Fatalf("Boost() error = %v", err)
	}
	if r := f.rank(t, "BR"); r.Entries[0].ProductID != "p" {
		t.Fatalf("boosted product should lead, got %s", r.Entries[0].ProductID)
	}

	f.clock.Add(time.Minute + time.Second)
	r := f.rank(t, "BR")
	if r.Entries[0].ProductID != "strong" {
		t.Errorf("after expiry order should follow score, got %s first", r.Entries[0].ProductID)
	}
	e, ok := entryFor(r, "p")
	if !ok {
		t.Fatal("p missing from ranking")
	}
	if e.ManualActive || !e.ManualExpired {
		t.Errorf("p flags active=%v expired=%v, want expired", e.ManualActive, e.ManualExpired)
	}
}

func TestBoost_UnknownPlan(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	if _, err := f.service.Boost(context.Background(), "p", "BR", "diamond"); !errors.Is(err, placement.ErrUnknownPlan) {
		t.Errorf("Boost(diamond) error = %v, want ErrUnknownPlan", err)
	}
}

func TestBoost_SupersedesExpiredBoost(t *testing.T) {
	f := newFixture(t, ServiceConfig{PlanMinutes: map[placement.Plan]int{placement.PlanEmerald: 1}})
	f.addProduct("p", "BR", 1)
	ctx := context.Background()

	if _, err := f.service.Boost(ctx, "p", "BR", "emerald"); err != nil {
		t.Fatal(err)
	}
	f.clock.Add(time.Hour)
	if _, err := f.service.Boost(ctx, "p", "BR", "sapphire"); err != nil {
		t.Fatal(err)
	}

	got, err := f.service.Placement(ctx, "p", "BR")
	if err != nil {
		t.Fatalf("Placement() error = %v", err)
	}
	if got.Plan != placement.PlanSapphire || !got.Active(f.clock.Now()) {
		t.Errorf("Placement() = %+v, want active sapphire", got)
	}
}

func TestCancelAndDisable(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	f.addProduct("p", "BR", 1)
	ctx := context.Background()

	if _, err := f.service.Boost(ctx, "p", "BR", "ruby"); err != nil {
		t.Fatal(err)
	}
	if err := f.service.CancelBoost(ctx, "p", "BR"); err != nil {
		t.Fatalf("CancelBoost() error = %v", err)
	}
	if err := f.service.CancelBoost(ctx, "p", "BR"); err != nil {
		t.Errorf("repeated CancelBoost() error = %v", err)
	}
	if err := f.service.DisableManual(ctx, "never-placed", "BR"); err != nil {
		t.Errorf("DisableManual(never placed) error = %v", err)
	}
	if _, err := f.service.Placement(ctx, "p", "BR"); !errors.Is(err, placement.ErrNotFound) {
		t.Errorf("Placement() after cancel error = %v, want ErrNotFound", err)
	}

	e, _ := entryFor(f.rank(t, "BR"), "p")
	if e.ManualActive || e.ManualExpired || e.ManualExpiresAt != nil {
		t.Errorf("cancelled product still carries placement fields: %+v", e)
	}
}

func TestApplyBatch_ResetOthers(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3", "s1", "s2"} {
		f.addProduct(id, "US", 0)
	}
	f.addProduct("popular", "US", 1000)

	if _, err := f.service.ApplyBatch(ctx, "US", []Override{
		{ProductID: "p2", Days: 1},
		{ProductID: "p3", Days: 1},
	}, false, nil); err != nil {
		t.Fatalf("first ApplyBatch() error = %v", err)
	}

	res, err := f.service.ApplyBatch(ctx, "US", []Override{{ProductID: "p1", Hours: 2}}, true, nil)
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if res.Applied != 1 || res.Removed != 2 {
		t.Errorf("ApplyBatch() = %+v, want applied=1 removed=2", res)
	}

	r := f.rank(t, "US")
	if r.Entries[0].ProductID != "p1" || !r.Entries[0].ManualActive {
		t.Errorf("p1 should lead the ranking, got %+v", r.Entries[0])
	}
	if r.Entries[1].ProductID != "popular" {
		t.Errorf("score-ranked products follow the manual prefix, got %s second", r.Entries[1].ProductID)
	}
	for _, id := range []string{"p2", "p3"} {
		if e, _ := entryFor(r, id); e.ManualActive || e.ManualExpiresAt != nil {
			t.Errorf("%s should no longer be manually placed: %+v", id, e)
		}
	}

	p1, _ := f.service.Placement(ctx, "p1", "US")
	if got := p1.ExpiresAt.Sub(p1.StartedAt); got != 2*time.Hour {
		t.Errorf("window = %v, want 2h", got)
	}
}

func TestApplyBatch_ValidationLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	f.addProduct("keep", "US", 0)
	if _, err := f.service.ApplyBatch(ctx, "US", []Override{{ProductID: "keep", Days: 1}}, false, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		scope     string
		overrides []Override
		wantErr   error
	}{
		{"empty with reset", "US", nil, placement.ErrEmptyBatch},
		{"zero duration", "US", []Override{{ProductID: "a", Days: 1}, {ProductID: "b"}}, placement.ErrInvalidDuration},
		{"duplicate product", "US", []Override{{ProductID: "a", Days: 1}, {ProductID: "a", Days: 2}}, placement.ErrDuplicateProduct},
		{"blank product", "US", []Override{{ProductID: " ", Days: 1}}, placement.ErrInvalidProduct},
		{"bad scope", "United States", []Override{{ProductID: "a", Days: 1}}, placement.ErrInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.ApplyBatch(ctx, tt.scope, tt.overrides, true, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ApplyBatch() error = %v, want %v", err, tt.wantErr)
			}
			if !placement.IsValidation(err) {
				t.Errorf("error %v should be a validation error", err)
			}

			list, _ := f.store.ListByScope(ctx, "US")
			if len(list) != 1 || list[0].ProductID != "keep" {
				t.Errorf("state changed after rejected batch: %+v", list)
			}
		})
	}
}

func TestApplyBatch_PositionDefaultsToIndex(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	_, err := f.service.ApplyBatch(ctx, "US", []Override{
		{ProductID: "a", Minutes: 30},
		{ProductID: "b", Minutes: 30},
		{ProductID: "c", Position: 1, Minutes: 30},
	}, false, nil)
	if err != nil {
		t.Fatal(err)
	}

	for id, want := range map[string]int{"a": 1, "b": 2, "c": 1} {
		p, err := f.service.Placement(ctx, id, "US")
		if err != nil {
			t.Fatal(err)
		}
		if p.Position != want {
			t.Errorf("%s position = %d, want %d", id, p.Position, want)
		}
	}
}

func TestApplyBatch_StaleBaseRevisionConflicts(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	base := int64(0)
	if _, err := f.service.ApplyBatch(ctx, "US", []Override{{ProductID: "a", Days: 1}}, true, &base); err != nil {
		t.Fatalf("first ApplyBatch() error = %v", err)
	}
	_, err := f.service.ApplyBatch(ctx, "US", []Override{{ProductID: "b", Days: 1}}, true, &base)
	if !errors.Is(err, placement.ErrConflict) {
		t.Fatalf("stale ApplyBatch() error = %v, want ErrConflict", err)
	}
	if _, err := f.service.Placement(ctx, "a", "US"); err != nil {
		t.Errorf("winning batch was lost: %v", err)
	}
}

func TestApplyBatch_ConcurrentBatchesAreSerialized(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			base := int64(0)
			overrides := []Override{
				{ProductID: fmt.Sprintf("w%d-a", w), Days: 1},
				{ProductID: fmt.Sprintf("w%d-b", w), Days: 1},
			}
			_, errs[w] = f.service.ApplyBatch(ctx, "US", overrides, true, &base)
		}(w)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, placement.ErrConflict):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d batches succeeded from the same base revision, want 1", succeeded)
	}

	list, _ := f.store.ListByScope(ctx, "US")
	if len(list) != 2 || list[0].ProductID[:2] != list[1].ProductID[:2] {
		t.Errorf("final state is not exactly one batch: %+v", list)
	}
}

func TestService_RecordsAuditTrail(t *testing.T) {
	repo := audit.NewInMemoryRepository(nil)
	f := newFixture(t, ServiceConfig{Audit: audit.NewRecorder(repo, nil)})
	ctx := middleware.SetOperatorID(context.Background(), "op-1")

	if _, err := f.service.ApplyBatch(ctx, "us", []Override{{ProductID: "p1", Days: 1}}, false, nil); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if _, err := f.service.Boost(ctx, "p2", "US", "ruby"); err != nil {
		t.Fatalf("Boost() error = %v", err)
	}
	stale := int64(0)
	if _, err := f.service.ApplyBatch(ctx, "US", []Override{{ProductID: "p3", Days: 1}}, true, &stale); !errors.Is(err, placement.ErrConflict) {
		t.Fatalf("stale ApplyBatch() error = %v, want ErrConflict", err)
	}
	if err := f.service.CancelBoost(ctx, "p2", "US"); err != nil {
		t.Fatalf("CancelBoost() error = %v", err)
	}
	// Rejected before a scope is known, so not recorded.
	if err := f.service.DisableManual(ctx, "p1", "usa"); err == nil {
		t.Fatal("DisableManual(usa) should fail")
	}

	entries, err := repo.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		action, outcome string
		revision        int64
	}{
		{audit.ActionManualBatch, audit.OutcomeSuccess, 1},
		{audit.ActionBoost, audit.OutcomeSuccess, 2},
		{audit.ActionManualBatch, audit.OutcomeFailure, 0},
		{audit.ActionBoostCancel, audit.OutcomeSuccess, 3},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d audit entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i, w := range want {
		e := entries[i]
		if e.Action != w.action || e.Outcome != w.outcome || e.Revision != w.revision || e.Scope != "US" || e.OperatorID != "op-1" {
			t.Errorf("entry %d = %+v, want %s/%s at revision %d", i, e, w.action, w.outcome, w.revision)
		}
	}
	if got := audit.VerifyChain(entries); got != -1 {
		t.Errorf("VerifyChain() = %d, want -1", got)
	}
}
