package placement

import "errors"

// ErrValidation is the parent of every input validation failure. Callers test
// for it with errors.Is and surface the wrapped message verbatim.
var ErrValidation = errors.New("validation error")

// Validation errors. Each wraps ErrValidation.
var (
	ErrEmptyBatch       = validationError("at least one product must be selected before saving")
	ErrInvalidDuration  = validationError("duration must be at least 1 minute")
	ErrUnknownPlan      = validationError("unknown boost plan")
	ErrDuplicateProduct = validationError("product appears more than once in the batch")
	ErrInvalidProduct   = validationError("product id is required")
	ErrInvalidScope     = validationError("scope must be a two-letter country code")
)

// Store errors.
var (
	// ErrNotFound is returned when no placement exists for a (scope, product) pair.
	ErrNotFound = errors.New("placement not found")

	// ErrConflict is returned when a concurrent write was detected by the
	// backing store. The caller should re-read the ranking and retry.
	ErrConflict = errors.New("placement conflict: scope was modified concurrently")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("placement store unavailable")
)

type validationErr struct {
	msg string
}

func (e *validationErr) Error() string { return e.msg }

func (e *validationErr) Unwrap() error { return ErrValidation }

func validationError(msg string) error {
	return &validationErr{msg: msg}
}

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
