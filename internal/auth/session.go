// Package auth covers login: OAuth flows against the platform identity
// providers and the signed session tokens the API hands back.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/digitalrelab/star-export/internal/domain"
)

// SessionCookie is the cookie the session token travels in.
const SessionCookie = "star_session"

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	jwt.RegisteredClaims

	// UserID is the authenticated user's internal id.
	UserID string `json:"uid"`
}

// Sessions issues and validates HS256-signed session tokens.
type Sessions struct {
	signingKey []byte
	ttl        time.Duration
}

// NewSessions creates a session token service. Tokens expire after ttl.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{
		signingKey: []byte(secret),
		ttl:        ttl,
	}
}

// Issue creates a session token for the user.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID: userID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate checks a session token and returns the user id it carries.
func (s *Sessions) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", domain.ErrInvalidSessionToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", domain.ErrInvalidSessionToken
	}
	return claims.UserID, nil
}

// TTL returns the configured session lifetime.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}
