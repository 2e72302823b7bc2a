package placement

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestNewPlacement_DurationIsExact(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
	}{
		{"one minute", 1},
		{"one hour", 60},
		{"one day two hours three minutes", 1440 + 120 + 3},
		{"ruby", PlanRuby.DurationMinutes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlacement("p1", "us", 1, tt.minutes, PlanNone, testNow)
			if err != nil {
				t.Fatalf("NewPlacement() error = %v", err)
			}
			if got, want := p.Duration(), time.Duration(tt.minutes)*time.Minute; got != want {
				t.Errorf("Duration() = %v, want %v", got, want)
			}
			if !p.ExpiresAt.After(p.StartedAt) {
				t.Error("ExpiresAt must be after StartedAt")
			}
			if p.Scope != "US" {
				t.Errorf("Scope = %q, want US", p.Scope)
			}
		})
	}
}

func TestNewPlacement_Validation(t *testing.T) {
	tests := []struct {
		name      string
		productID string
		scope     string
		minutes   int
		wantErr   error
	}{
		{"zero duration", "p1", "US", 0, ErrInvalidDuration},
		{"negative duration", "p1", "US", -5, ErrInvalidDuration},
		{"blank product", "  ", "US", 10, ErrInvalidProduct},
		{"long product", strings.Repeat("x", MaxProductIDLength+1), "US", 10, ErrInvalidProduct},
		{"bad scope", "p1", "USA", 10, ErrInvalidScope},
		{"numeric scope", "p1", "12", 10, ErrInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlacement(tt.productID, tt.scope, 1, tt.minutes, PlanNone, testNow)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewPlacement() error = %v, want %v", err, tt.wantErr)
			}
			if !IsValidation(err) {
				t.Errorf("error %v should be a validation error", err)
			}
		})
	}
}

func TestNewPlacement_PositionDefaultsToOne(t *testing.T) {
	p, err := NewPlacement("p1", "US", 0, 10, PlanNone, testNow)
	if err != nil {
		t.Fatalf("NewPlacement() error = %v", err)
	}
	if p.Position != 1 {
		t.Errorf("Position = %d, want 1", p.Position)
	}
}

func TestPlacement_State(t *testing.T) {
	p, err := NewPlacement("p1", "US", 1, 1, PlanNone, testNow)
	if err != nil {
		t.Fatalf("NewPlacement() error = %v", err)
	}

	if got := p.State(testNow); got != StateActive {
		t.Errorf("State(start) = %q, want active", got)
	}
	if got := p.State(testNow.Add(59 * time.Second)); got != StateActive {
		t.Errorf("State(+59s) = %q, want active", got)
	}
	// The window is half-open: at ExpiresAt the placement is expired.
	if got := p.State(p.ExpiresAt); got != StateExpired {
		t.Errorf("State(expiresAt) = %q, want expired", got)
	}
	if !p.Expired(testNow.Add(time.Hour)) {
		t.Error("Expired(+1h) = false, want true")
	}
}

func TestPlacement_ValidateRejectsUnknownPlan(t *testing.T) {
	p, err := NewPlacement("p1", "US", 1, 10, PlanNone, testNow)
	if err != nil {
		t.Fatalf("NewPlacement() error = %v", err)
	}
	p.Plan = Plan("gold")
	if err := p.Validate(); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("Validate() error = %v, want ErrUnknownPlan", err)
	}
}
