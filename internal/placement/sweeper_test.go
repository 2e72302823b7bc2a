package placement

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	short := mustPlacement(t, "short", "US", 1, 1, PlanNone, testNow)
	long := mustPlacement(t, "long", "US", 2, 60, PlanNone, testNow)
	ruby := mustPlacement(t, "ruby", "US", 5, PlanRuby.DurationMinutes(), PlanRuby, testNow)

	part := Classify([]Placement{short, long, ruby}, testNow.Add(2*time.Minute))

	if len(part.Expired) != 1 || part.Expired[0].ProductID != "short" {
		t.Errorf("Expired = %+v, want [short]", part.Expired)
	}
	if len(part.Active) != 2 {
		t.Fatalf("Active has %d entries, want 2", len(part.Active))
	}
	// Plan tier outranks advisory position.
	if part.Active[0].ProductID != "ruby" || part.Active[1].ProductID != "long" {
		t.Errorf("Active order = [%s %s], want [ruby long]", part.Active[0].ProductID, part.Active[1].ProductID)
	}

	byProduct := part.ByProduct()
	if len(byProduct) != 3 {
		t.Errorf("ByProduct() has %d entries, want 3", len(byProduct))
	}
}

func TestClassify_DoesNotMutateInput(t *testing.T) {
	a := mustPlacement(t, "a", "US", 2, 10, PlanNone, testNow)
	b := mustPlacement(t, "b", "US", 1, 10, PlanNone, testNow)
	in := []Placement{a, b}

	Classify(in, testNow)

	if in[0].ProductID != "a" || in[1].ProductID != "b" {
		t.Error("Classify reordered its input")
	}
}

func TestSortManual(t *testing.T) {
	early := testNow
	late := testNow.Add(time.Minute)

	ps := []Placement{
		mustPlacement(t, "adhoc-pos1-late", "US", 1, 10, PlanNone, late),
		mustPlacement(t, "adhoc-pos1-early-b", "US", 1, 10, PlanNone, early),
		mustPlacement(t, "adhoc-pos1-early-a", "US", 1, 10, PlanNone, early),
		mustPlacement(t, "adhoc-pos2", "US", 2, 10, PlanNone, early),
		mustPlacement(t, "emerald", "US", 9, 10, PlanEmerald, late),
		mustPlacement(t, "sapphire", "US", 9, 10, PlanSapphire, late),
	}
	SortManual(ps)

	want := []string{
		"sapphire",
		"emerald",
		"adhoc-pos1-early-a",
		"adhoc-pos1-early-b",
		"adhoc-pos1-late",
		"adhoc-pos2",
	}
	for i, id := range want {
		if ps[i].ProductID != id {
			t.Errorf("position %d = %s, want %s", i, ps[i].ProductID, id)
		}
	}
}
