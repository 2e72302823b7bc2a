package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/promorank/internal/auth"
)

// OperatorTokenValidator validates operator bearer tokens. *auth.JWTService
// satisfies it.
type OperatorTokenValidator interface {
	ValidateOperatorToken(token string) (*auth.Claims, error)
}

// RequireOperator rejects requests without a valid operator bearer token and
// stores the operator ID in the request context. A nil validator disables the
// check, which is how local development runs without JWT_SECRET.
func RequireOperator(validator OperatorTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="promorank"`)
				writeError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Bearer token required")
				return
			}

			claims, err := validator.ValidateOperatorToken(strings.TrimSpace(token))
			switch {
			case errors.Is(err, auth.ErrNotOperator):
				writeError(w, r.Context(), http.StatusForbidden, "forbidden", "Operator role required")
				return
			case errors.Is(err, auth.ErrExpiredToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="promorank", error="invalid_token"`)
				writeError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Token has expired")
				return
			case err != nil:
				w.Header().Set("WWW-Authenticate", `Bearer realm="promorank", error="invalid_token"`)
				writeError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Invalid token")
				return
			}

			ctx := SetOperatorID(r.Context(), claims.Subject)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
