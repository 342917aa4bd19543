// Package auth implements the challenge/session layer: liveness challenges
// confirmed out of band, and short-lived signed sessions gating ticket
// issuance. Sessions are stateless to verify; there is no revocation list
// beyond identity destruction failing at the ticket and signing layers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// sessionClaimsVersion tags the claim structure so future layouts can be
// rejected or migrated explicitly.
const sessionClaimsVersion = 1

// SessionClaims is the signed claim structure of a session token. Claims must
// never be read before Verify succeeds.
type SessionClaims struct {
	jwt.RegisteredClaims
	ExternalRef string `json:"ext,omitempty"`
	Version     int    `json:"ver"`
}

// SessionSigner mints and verifies session tokens with an HMAC secret shared
// between the API tier instances.
type SessionSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionSigner creates a signer. The secret must be at least 32 bytes.
func NewSessionSigner(secret []byte, ttl time.Duration) (*SessionSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &SessionSigner{secret: secret, ttl: ttl}, nil
}

// TTL returns the configured session lifetime.
func (s *SessionSigner) TTL() time.Duration {
	return s.ttl
}

// Issue mints a session token for a user.
func (s *SessionSigner) Issue(userID, externalRef string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		ExternalRef: externalRef,
		Version:     sessionClaimsVersion,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}

// Verify checks signature and expiry and returns the claims. The token is
// untrusted bytes until this returns nil error.
func (s *SessionSigner) Verify(token string) (*SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, interfaces.ErrSessionExpired
		}
		return nil, interfaces.ErrSessionInvalid
	}

	if claims.Version != sessionClaimsVersion || claims.Subject == "" {
		return nil, interfaces.ErrSessionInvalid
	}
	return &claims, nil
}
