// Package auth issues and validates the HS256 bearer tokens that operators
// present on placement-mutating routes.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleOperator is the only role allowed to change placements.
const RoleOperator = "operator"

// Issuer and Audience are stamped on every token and required on validation.
const (
	Issuer   = "promorank"
	Audience = "promorank-api"
)

// DefaultTokenTTL is the lifetime of tokens minted by IssueOperatorToken.
const DefaultTokenTTL = 12 * time.Hour

// DefaultLeeway is the clock skew tolerated on exp/nbf/iat.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")

	// ErrEmptyOperatorID is returned when minting a token without a subject.
	ErrEmptyOperatorID = errors.New("operator id cannot be empty")

	// ErrNotOperator is returned for valid tokens that lack the operator role.
	ErrNotOperator = errors.New("token does not carry the operator role")
)

// Claims are the JWT claims carried by operator tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTService handles operator token operations.
// Tokens are signed with currentSecret and validated against currentSecret
// or previousSecret, so the secret can be rotated without downtime.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// NewJWTService creates a JWTService. previousSecret may be empty.
func NewJWTService(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// WithLeeway overrides DefaultLeeway.
func (s *JWTService) WithLeeway(d time.Duration) *JWTService {
	s.leeway = d
	return s
}

// WithTimeFunc overrides the clock used to mint and validate tokens.
func (s *JWTService) WithTimeFunc(now func() time.Time) *JWTService {
	if now != nil {
		s.now = now
	}
	return s
}

// IssueOperatorToken mints a token for operatorID valid for ttl.
// A non-positive ttl uses DefaultTokenTTL.
func (s *JWTService) IssueOperatorToken(operatorID string, ttl time.Duration) (string, error) {
	if operatorID == "" {
		return "", ErrEmptyOperatorID
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: RoleOperator,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.currentSecret)
}

// ValidateOperatorToken parses tokenString and returns its claims when it is
// a current, correctly signed operator token.
func (s *JWTService) ValidateOperatorToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleOperator {
		return nil, ErrNotOperator
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
