package placement

import (
	"fmt"
	"strings"
	"time"
)

// Plan identifies a boost plan. PlanNone marks an ad-hoc manual placement.
// The set of plans is closed; unknown keys never reach the data model.
type Plan string

// Boost plans.
const (
	PlanNone     Plan = ""
	PlanEmerald  Plan = "emerald"
	PlanSapphire Plan = "sapphire"
	PlanRuby     Plan = "ruby"
)

// PlanSpec is the static configuration of a boost plan.
type PlanSpec struct {
	Key          Plan `json:"key"`
	DurationDays int  `json:"duration_days"`
	// PriorityTier sorts higher tiers first among active manual placements.
	PriorityTier int `json:"priority_tier"`
}

var planTable = map[Plan]PlanSpec{
	PlanEmerald:  {Key: PlanEmerald, DurationDays: 7, PriorityTier: 1},
	PlanSapphire: {Key: PlanSapphire, DurationDays: 15, PriorityTier: 2},
	PlanRuby:     {Key: PlanRuby, DurationDays: 45, PriorityTier: 3},
}

// ParsePlan resolves a boost plan key. Keys are case-insensitive.
// An empty key is not a boost plan and is rejected.
func ParsePlan(key string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(key)))
	if _, ok := planTable[p]; !ok {
		return PlanNone, fmt.Errorf("%w: %q", ErrUnknownPlan, key)
	}
	return p, nil
}

// Spec returns the plan configuration. PlanNone and unknown plans return a
// zero-duration spec with tier 0.
func (p Plan) Spec() PlanSpec {
	if spec, ok := planTable[p]; ok {
		return spec
	}
	return PlanSpec{Key: p}
}

// Tier returns the priority tier used for tie-breaking.
func (p Plan) Tier() int {
	return p.Spec().PriorityTier
}

// Duration returns the plan length. Zero for PlanNone.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.Spec().DurationDays) * 24 * time.Hour
}

// DurationMinutes returns the plan length in whole minutes.
func (p Plan) DurationMinutes() int {
	return p.Spec().DurationDays * 24 * 60
}

// IsBoost reports whether p is one of the fixed boost plans.
func (p Plan) IsBoost() bool {
	_, ok := planTable[p]
	return ok
}

// Plans returns every boost plan ordered by ascending tier.
func Plans() []PlanSpec {
	return []PlanSpec{
		planTable[PlanEmerald],
		planTable[PlanSapphire],
		planTable[PlanRuby],
	}
}
