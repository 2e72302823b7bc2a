package placement

import (
	"sort"
	"time"
)

// Partition splits the placements of a scope by state at a point in time.
type Partition struct {
	Active  []Placement
	Expired []Placement
}

// ByProduct indexes both halves of the partition by product ID.
func (p Partition) ByProduct() map[string]Placement {
	out := make(map[string]Placement, len(p.Active)+len(p.Expired))
	for _, pl := range p.Expired {
		out[pl.ProductID] = pl
	}
	for _, pl := range p.Active {
		out[pl.ProductID] = pl
	}
	return out
}

// Classify partitions placements into active and expired at now.
// Expiry is a predicate on the clock, so Classify is pure and performs no
// writes; expired placements stay stored until disabled or superseded.
func Classify(placements []Placement, now time.Time) Partition {
	var part Partition
	for _, p := range placements {
		if p.Active(now) {
			part.Active = append(part.Active, p)
		} else {
			part.Expired = append(part.Expired, p)
		}
	}
	SortManual(part.Active)
	return part
}

// SortManual orders active manual placements: plan tier descending, then
// advisory position ascending, then earlier start first, then product ID.
func SortManual(placements []Placement) {
	sort.SliceStable(placements, func(i, j int) bool {
		a, b := placements[i], placements[j]
		if ta, tb := a.Plan.Tier(), b.Plan.Tier(); ta != tb {
			return ta > tb
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ProductID < b.ProductID
	})
}
