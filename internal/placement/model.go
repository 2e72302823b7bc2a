// Package placement manages time-bounded manual placements that pin products
// ahead of the score-ranked feed for a country scope.
package placement

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// State is the lifecycle state of a (scope, product) placement slot.
type State string

// Placement states. There is no pending state: placements are active from creation.
const (
	StateNone    State = "none"
	StateActive  State = "active"
	StateExpired State = "expired"
)

// MaxProductIDLength bounds product identifiers accepted by the engine.
const MaxProductIDLength = 128

var scopePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Placement is a manual placement of one product within one scope.
type Placement struct {
	ProductID string `json:"product_id"`
	Scope     string `json:"scope"`
	// Position is the advisory 1-based rank within the manual subset at save
	// time. It is re-derived on every aggregation and is not a fixed index.
	Position  int       `json:"position"`
	Plan      Plan      `json:"plan_key,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// ExpiredMarkedAt is set by the periodic sweep once the window elapsed.
	ExpiredMarkedAt *time.Time `json:"expired_marked_at,omitempty"`
}

// Active reports whether the placement window is still open at now.
func (p Placement) Active(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// Expired reports whether the placement window has elapsed at now.
func (p Placement) Expired(now time.Time) bool {
	return !p.Active(now)
}

// State returns the placement state at now.
func (p Placement) State(now time.Time) State {
	if p.Active(now) {
		return StateActive
	}
	return StateExpired
}

// Duration returns the length of the placement window.
func (p Placement) Duration() time.Duration {
	return p.ExpiresAt.Sub(p.StartedAt)
}

// Validate checks the placement invariants.
func (p Placement) Validate() error {
	if err := ValidateProductID(p.ProductID); err != nil {
		return err
	}
	if _, err := NormalizeScope(p.Scope); err != nil {
		return err
	}
	if !p.ExpiresAt.After(p.StartedAt) {
		return ErrInvalidDuration
	}
	if p.Plan != PlanNone && !p.Plan.IsBoost() {
		return fmt.Errorf("%w: %q", ErrUnknownPlan, p.Plan)
	}
	return nil
}

// NewPlacement builds a placement starting at now that lasts durationMinutes.
func NewPlacement(productID, scope string, position, durationMinutes int, plan Plan, now time.Time) (Placement, error) {
	if durationMinutes < 1 {
		return Placement{}, ErrInvalidDuration
	}
	if err := ValidateProductID(productID); err != nil {
		return Placement{}, err
	}
	normalized, err := NormalizeScope(scope)
	if err != nil {
		return Placement{}, err
	}
	if position < 1 {
		position = 1
	}
	// Postgres keeps microseconds; truncating here keeps the window length
	// exact after a round trip.
	start := now.UTC().Truncate(time.Microsecond)
	return Placement{
		ProductID: productID,
		Scope:     normalized,
		Position:  position,
		Plan:      plan,
		StartedAt: start,
		ExpiresAt: start.Add(time.Duration(durationMinutes) * time.Minute),
	}, nil
}

// NormalizeScope upper-cases and validates a country scope.
func NormalizeScope(scope string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(scope))
	if !scopePattern.MatchString(s) {
		return "", ErrInvalidScope
	}
	return s, nil
}

// ValidateProductID checks that a product identifier is usable.
func ValidateProductID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > MaxProductIDLength {
		return ErrInvalidProduct
	}
	return nil
}
