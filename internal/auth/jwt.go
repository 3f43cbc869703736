// Package auth provides password hashing, UI-instance tokens and the HTTP
// middleware that binds a request to its session.
//
// INSTANCE TOKENS:
// Every browser tab (a "UI instance") is identified by a random instance ID.
// The ID travels in a cookie as a signed JWT so clients cannot forge or
// guess another instance's ID:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"<instance id>","iss":"tripease-identity","exp":...}
//	- Signature: HMAC-SHA256 with the server's session secret
//
// The token carries no identity. Who is logged in on that instance lives in
// the session store (see package session), so logout takes effect
// immediately on the server.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "tripease-identity"

// DefaultInstanceTTL bounds how long a UI instance cookie stays valid.
const DefaultInstanceTTL = 30 * 24 * time.Hour

// TokenService handles instance token creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultInstanceTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of tokens issued by Issue.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// NewInstanceID returns a fresh, globally unique UI instance ID.
func NewInstanceID() string {
	return xid.New().String()
}

// Issue signs a token for instanceID with the service's default lifetime.
func (s *TokenService) Issue(instanceID string) (string, error) {
	return s.IssueWithTTL(instanceID, s.ttl)
}

// IssueWithTTL signs a token with a custom lifetime. Tests use a negative
// duration to produce an already-expired token.
func (s *TokenService) IssueWithTTL(instanceID string, d time.Duration) (string, error) {
	if instanceID == "" {
		return "", errors.New("auth: instance ID must not be empty")
	}
	now := time.Now()

	c := jwt.RegisteredClaims{
		Subject:   instanceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token and returns the instance ID it names.
//
// The signature, expiry, issuer and algorithm (HS256 only) are all checked.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
