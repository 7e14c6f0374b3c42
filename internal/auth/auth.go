package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no Authorization header is sent
	ErrMissingToken = errors.New("missing authorization header")
	// ErrMalformedToken is returned when the header carries no token
	ErrMalformedToken = errors.New("malformed authorization header")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrForbidden      = errors.New("insufficient scope")
)

// Scope limits what a bearer token may do
type Scope string

const (
	// ScopePlayer may only ask for player decisions
	ScopePlayer Scope = "player"
	// ScopeAdmin may call every route
	ScopeAdmin Scope = "admin"
)

// ParseScope validates a scope name
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopePlayer, ScopeAdmin:
		return Scope(s), nil
	}
	return "", errors.New("scope must be player or admin")
}

// Allows reports whether a token of scope s may perform an action that
// requires scope need
func (s Scope) Allows(need Scope) bool {
	return s == ScopeAdmin || s == need
}

// Claims represents the JWT claims of a scoped token
type Claims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// Service verifies bearer tokens. The shared secret itself is accepted
// with admin scope; tokens signed with it carry their own scope.
type Service struct {
	secret []byte
	now    func() time.Time
}

// NewService creates a new auth service
func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// GenerateToken creates a JWT with the given scope. A zero ttl creates a
// token that never expires.
func (s *Service) GenerateToken(scope Scope, subject string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken checks a bearer token and returns its scope
func (s *Service) ValidateToken(tokenString string) (Scope, error) {
	if subtle.ConstantTimeCompare([]byte(tokenString), s.secret) == 1 {
		return ScopeAdmin, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", ErrInvalidToken
	}
	if _, err := ParseScope(string(claims.Scope)); err != nil {
		return "", ErrInvalidToken
	}
	return claims.Scope, nil
}

// Authorize checks the request's bearer token against the scope need.
// The returned status is the HTTP status a rejection should carry: 203
// for a missing or malformed header, 401 for a wrong token and 403 for
// a valid token lacking the scope.
func (s *Service) Authorize(r *http.Request, need Scope) (Scope, int, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", http.StatusNonAuthoritativeInfo, ErrMissingToken
	}

	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", http.StatusNonAuthoritativeInfo, ErrMalformedToken
	}

	scope, err := s.ValidateToken(fields[1])
	if err != nil {
		return "", http.StatusUnauthorized, err
	}
	if !scope.Allows(need) {
		return scope, http.StatusForbidden, ErrForbidden
	}
	return scope, http.StatusOK, nil
}
