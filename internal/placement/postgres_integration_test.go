//go:build integration

package placement_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/promorank/internal/db/dbtest"
	"github.com/onnwee/promorank/internal/placement"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newPlacement(t *testing.T, id, scope string, minutes int, plan placement.Plan) placement.Placement {
	t.Helper()
	p, err := placement.NewPlacement(id, scope, 1, minutes, plan, now)
	if err != nil {
		t.Fatalf("NewPlacement() error = %v", err)
	}
	return p
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := placement.NewPostgresStore(dbtest.Open(t), nil)

	p := newPlacement(t, "p1", "US", 45*1440, placement.PlanRuby)
	res, err := store.Upsert(ctx, p)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if res.Revision != 1 || res.Changed {
		t.Errorf("Upsert() = %+v, want revision 1 unchanged", res)
	}

	got, err := store.Get(ctx, "US", "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Plan != placement.PlanRuby || !got.StartedAt.Equal(p.StartedAt) || got.Duration() != p.Duration() {
		t.Errorf("Get() = %+v, want %+v", got, p)
	}

	if _, err := store.Get(ctx, "US", "missing"); !errors.Is(err, placement.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	res, err = store.Delete(ctx, "US", "p1")
	if err != nil || !res.Changed || res.Revision != 2 {
		t.Errorf("Delete() = %+v, %v; want changed at revision 2", res, err)
	}
	res, err = store.Delete(ctx, "US", "p1")
	if err != nil || res.Changed || res.Revision != 2 {
		t.Errorf("second Delete() = %+v, %v; want no-op at revision 2", res, err)
	}
}

func TestPostgresStore_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	store := placement.NewPostgresStore(dbtest.Open(t), nil)

	for _, id := range []string{"old", "p1"} {
		if _, err := store.Upsert(ctx, newPlacement(t, id, "DE", 10, placement.PlanNone)); err != nil {
			t.Fatal(err)
		}
	}

	base := int64(2)
	res, err := store.ApplyBatch(ctx, placement.BatchWrite{
		Scope:            "DE",
		Placements:       []placement.Placement{newPlacement(t, "p1", "DE", 30, placement.PlanNone), newPlacement(t, "p2", "DE", 30, placement.PlanNone)},
		ResetOthers:      true,
		ExpectedRevision: &base,
	})
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if res.Applied != 2 || res.Superseded != 1 || res.Removed != 1 || res.Revision != 3 {
		t.Errorf("ApplyBatch() = %+v", res)
	}

	// Stale base revision is rejected without writing.
	_, err = store.ApplyBatch(ctx, placement.BatchWrite{
		Scope:            "DE",
		Placements:       []placement.Placement{newPlacement(t, "p9", "DE", 30, placement.PlanNone)},
		ResetOthers:      true,
		ExpectedRevision: &base,
	})
	if !errors.Is(err, placement.ErrConflict) {
		t.Fatalf("stale ApplyBatch() error = %v, want ErrConflict", err)
	}
	list, _ := store.ListByScope(ctx, "DE")
	if len(list) != 2 {
		t.Errorf("ListByScope() = %+v, want p1 and p2", list)
	}
}

func TestPostgresStore_ConcurrentBatchesNeverMerge(t *testing.T) {
	ctx := context.Background()
	store := placement.NewPostgresStore(dbtest.Open(t), nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var ps []placement.Placement
			for i := 0; i < 3; i++ {
				p, err := placement.NewPlacement(fmt.Sprintf("w%d-p%d", w, i), "FR", i+1, 10, placement.PlanNone, now)
				if err != nil {
					t.Error(err)
					return
				}
				ps = append(ps, p)
			}
			if _, err := store.ApplyBatch(ctx, placement.BatchWrite{Scope: "FR", Placements: ps, ResetOthers: true}); err != nil {
				t.Errorf("ApplyBatch() error = %v", err)
			}
		}(w)
	}
	wg.Wait()

	list, err := store.ListByScope(ctx, "FR")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("final state has %d placements, want 3", len(list))
	}
	prefix := list[0].ProductID[:2]
	for _, p := range list {
		if p.ProductID[:2] != prefix {
			t.Fatalf("final state mixes batches: %+v", list)
		}
	}
}

func TestPostgresStore_MarkExpired(t *testing.T) {
	ctx := context.Background()
	store := placement.NewPostgresStore(dbtest.Open(t), nil)

	if _, err := store.Upsert(ctx, newPlacement(t, "p1", "US", 1, placement.PlanNone)); err != nil {
		t.Fatal(err)
	}
	n, err := store.MarkExpired(ctx, "US", now.Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("MarkExpired() = %d, %v; want 1", n, err)
	}
	scopes, err := store.Scopes(ctx)
	if err != nil || len(scopes) != 1 || scopes[0] != "US" {
		t.Errorf("Scopes() = %v, %v", scopes, err)
	}
}
