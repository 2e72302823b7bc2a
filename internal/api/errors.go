// Package api provides the promorank HTTP handlers and the standard JSON
// error envelope they share.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/promorank/internal/middleware"
	"github.com/onnwee/promorank/internal/placement"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates the scope changed since the caller read it.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeUnavailable indicates a backing store could not be reached.
	ErrCodeUnavailable = "unavailable"

	// ErrCodeKeyReused indicates an Idempotency-Key was sent with a different request.
	ErrCodeKeyReused = "idempotency_key_reused"
)

// Validation codes refine ErrCodeValidation for specific inputs.
const (
	ErrCodeEmptyBatch       = "empty_batch"
	ErrCodeInvalidDuration  = "invalid_duration"
	ErrCodeUnknownPlan      = "unknown_plan"
	ErrCodeDuplicateProduct = "duplicate_product"
	ErrCodeInvalidProduct   = "invalid_product"
	ErrCodeInvalidScope     = "invalid_scope"
	ErrCodeInvalidLimit     = "invalid_limit"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and records code
// for the logging middleware.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest,
		ErrCodeEmptyBatch, ErrCodeInvalidDuration, ErrCodeUnknownPlan,
		ErrCodeDuplicateProduct, ErrCodeInvalidProduct, ErrCodeInvalidScope, ErrCodeInvalidLimit:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeKeyReused:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var validationCodes = []struct {
	err  error
	code string
}{
	{placement.ErrEmptyBatch, ErrCodeEmptyBatch},
	{placement.ErrInvalidDuration, ErrCodeInvalidDuration},
	{placement.ErrUnknownPlan, ErrCodeUnknownPlan},
	{placement.ErrDuplicateProduct, ErrCodeDuplicateProduct},
	{placement.ErrInvalidProduct, ErrCodeInvalidProduct},
	{placement.ErrInvalidScope, ErrCodeInvalidScope},
}

// ErrorCode classifies a domain error into an API error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case placement.IsValidation(err):
		for _, vc := range validationCodes {
			if errors.Is(err, vc.err) {
				return vc.code
			}
		}
		return ErrCodeValidation
	case errors.Is(err, placement.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, placement.ErrConflict):
		return ErrCodeConflict
	case errors.Is(err, placement.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternal
	}
}

// WriteServiceError maps a domain error to its status and writes it.
// Validation messages are returned verbatim; internal failures are logged
// and reported without detail.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrorCode(err)
	status := StatusCodeMapping(code)

	message := err.Error()
	switch code {
	case ErrCodeInternal:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		message = "Internal server error"
	case ErrCodeUnavailable:
		slog.WarnContext(r.Context(), "store unavailable", "error", err)
		message = "Service temporarily unavailable, retry later"
	case ErrCodeConflict:
		message = "Scope was modified concurrently; re-read the ranking and retry"
	}
	WriteError(w, r.Context(), status, code, message)
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
