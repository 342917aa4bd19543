// Package ticket mints and verifies the scoped, single-use signing
// authorizations at the heart of the custody protocol. A ticket binds one
// identity to one digest for a deliberately short TTL; the persisted row's
// used_at flag is what makes it single-use.
package ticket

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

const ticketClaimsVersion = 1

// Claims is the signed claim structure of a ticket token. The token is
// untrusted bytes until Verify succeeds; no field may be read before that.
type Claims struct {
	jwt.RegisteredClaims
	IdentityID string `json:"idn"`
	DigestHash string `json:"dgh"`
	Scope      string `json:"scope"`
	Nonce      string `json:"nonce"`
	Version    int    `json:"ver"`
}

// Digest returns the parsed digest hash bound to the ticket.
func (c *Claims) Digest() (interfaces.DigestHash, error) {
	return interfaces.NewDigestHash(c.DigestHash)
}

// Codec signs and verifies ticket tokens with the secret shared between the
// ticket issuer and the enclave signer.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec. The secret must be at least 32 bytes.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < 32 {
		return nil, errors.New("ticket secret must be at least 32 bytes")
	}
	return &Codec{secret: secret}, nil
}

// Sign serializes and signs the claims.
func (c *Codec) Sign(claims *Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing ticket token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry, scope and claim version. Expired tokens
// fail ErrTicketExpired; everything else malformed fails ErrTicketInvalid.
func (c *Codec) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, interfaces.ErrTicketExpired
		}
		return nil, interfaces.ErrTicketInvalid
	}

	if claims.Version != ticketClaimsVersion ||
		claims.Scope != interfaces.TicketScopeSign ||
		claims.ID == "" ||
		claims.IdentityID == "" {
		return nil, interfaces.ErrTicketInvalid
	}

	if _, err := claims.Digest(); err != nil {
		return nil, interfaces.ErrTicketInvalid
	}
	if _, err := hex.DecodeString(claims.Nonce); err != nil {
		return nil, interfaces.ErrTicketInvalid
	}
	return &claims, nil
}

// newClaims assembles the claims for a fresh ticket.
func newClaims(jti, userID, identityID string, digest interfaces.DigestHash, nonce []byte, expiresAt time.Time) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IdentityID: identityID,
		DigestHash: digest.String(),
		Scope:      interfaces.TicketScopeSign,
		Nonce:      hex.EncodeToString(nonce),
		Version:    ticketClaimsVersion,
	}
}
