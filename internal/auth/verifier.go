// Package auth verifies the bearer token presented on a session's first
// frame. Adapted from the teacher's Supabase JWKS verifier
// (internal/auth/jwt_verifier.go): same parse-then-validate shape, but
// against a single configured HMAC secret instead of a JWKS endpoint —
// spec.md's Non-goals rule out any auth scheme beyond bearer-token
// verification against a configured secret.
package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dispatchd/internal/domain"
)

// Claims is the minimal claim set carried by a bearer token: a subject
// used as the session's auth_principal, and the standard expiry claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates a bearer token and extracts its principal.
type Verifier interface {
	VerifyToken(tokenString string) (principal string, err error)
}

// HMACVerifier implements Verifier using a single shared secret
// (AUTH_BEARER_TOKEN). Unlike the teacher's RS256/JWKS verifier there is
// no key rotation or network fetch: the secret is fixed at startup.
type HMACVerifier struct {
	secret []byte
	logger *slog.Logger
}

// NewHMACVerifier creates a verifier against secret. An empty secret is
// rejected — the caller must not construct a verifier that accepts
// anything.
func NewHMACVerifier(secret string, logger *slog.Logger) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth bearer secret cannot be empty")
	}
	return &HMACVerifier{secret: []byte(secret), logger: logger}, nil
}

// VerifyToken validates tokenString as an HS256 JWT signed with the
// configured secret and returns its subject claim as the principal.
func (v *HMACVerifier) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.New(domain.KindAuthFailed, "unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", domain.Wrap(domain.KindAuthFailed, "bearer token rejected", err)
	}

	if !token.Valid {
		return "", domain.New(domain.KindAuthFailed, "bearer token invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", domain.New(domain.KindAuthFailed, "bearer token missing subject")
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return "", domain.New(domain.KindAuthFailed, "bearer token expired")
	}

	return claims.Subject, nil
}
