// Package interfaces defines the core types and contracts of the custody
// system: the data model rows, the custody store and rate limiter
// capabilities, the persistence contract, and the error taxonomy. It provides
// the contract between components without implementation details.
package interfaces

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyAlgorithm identifies the signing algorithm of an identity.
type KeyAlgorithm string

const (
	// Secp256k1 is the only algorithm currently supported. Signatures are
	// 65-byte [R || S || V] compact signatures over 32-byte digests.
	Secp256k1 KeyAlgorithm = "secp256k1"
)

// UserStatus is the lifecycle state of a user row.
type UserStatus string

const (
	UserPending UserStatus = "pending"
	UserActive  UserStatus = "active"
)

// IdentityStatus is the lifecycle state of an identity. Destroyed is terminal:
// no further tickets or signatures are possible for that identity.
type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentityDestroyed IdentityStatus = "destroyed"
)

// DigestHash is the exact 32-byte payload a ticket authorizes a signature
// over. It is treated as opaque; no chain-specific meaning is attached.
type DigestHash [32]byte

// NewDigestHash parses a digest hash from a hex string, with or without 0x
// prefix.
func NewDigestHash(s string) (DigestHash, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 64 {
		return DigestHash{}, errors.New("invalid digest hash length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return DigestHash{}, fmt.Errorf("invalid digest hash format: %w", err)
	}

	var d DigestHash
	copy(d[:], raw)
	return d, nil
}

// NewDigestHashFromBytes creates a digest hash from a 32-byte slice.
func NewDigestHashFromBytes(raw []byte) (DigestHash, error) {
	if len(raw) != 32 {
		return DigestHash{}, errors.New("invalid digest hash length: must be 32 bytes")
	}

	var d DigestHash
	copy(d[:], raw)
	return d, nil
}

// String returns the hex representation of the digest hash.
func (d DigestHash) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns the raw 32-byte digest.
func (d DigestHash) Bytes() []byte {
	return d[:]
}

// ConstantTimeEqual compares two digests without leaking the position of the
// first differing byte.
func (d DigestHash) ConstantTimeEqual(other DigestHash) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// User is created on first successful challenge confirmation and never
// deleted. Status transitions pending to active exactly once.
type User struct {
	ID          string
	ExternalRef string
	Status      UserStatus
	CreatedAt   time.Time
}

// Identity is a signing key owned by a user. One user may own multiple
// identities.
type Identity struct {
	ID        string
	UserID    string
	Alg       KeyAlgorithm
	PublicKey []byte
	Status    IdentityStatus
	CreatedAt time.Time
}

// PublicKeyHex returns the identity's uncompressed public key as hex.
func (i *Identity) PublicKeyHex() string {
	return hex.EncodeToString(i.PublicKey)
}

// Ticket is a single-use signing authorization bound to one identity and one
// digest. UsedAt transitions nil to a timestamp exactly once, enforced by a
// conditional update at the storage layer; once set it is never unset.
type Ticket struct {
	ID         string
	IdentityID string
	DigestHash DigestHash
	Scope      string
	Nonce      []byte
	ExpiresAt  time.Time
	UsedAt     *time.Time
}

// TicketScopeSign is the only scope tickets are currently minted with.
const TicketScopeSign = "sign"

// SealedKey holds the sealed private key material for an identity. The
// custody store exclusively owns the plaintext; everything outside it only
// ever sees this ciphertext blob.
type SealedKey struct {
	IdentityID string
	Alg        KeyAlgorithm
	SealedKey  []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AuditEvent is an append-only record of a security-relevant transition.
type AuditEvent struct {
	ID         string
	UserID     string
	IdentityID string
	Action     string
	Metadata   string
	CreatedAt  time.Time
}

// Audit actions emitted by the enclave service.
const (
	AuditIdentityCreate  = "identity.create"
	AuditIdentitySign    = "identity.sign"
	AuditIdentityDestroy = "identity.destroy"
	AuditIdentityRestore = "identity.restore"
	AuditTicketReplayed  = "ticket.replayed"
	AuditKeyExported     = "key.exported"
)

// AttestationStatus reports whether the custody backend's environment is
// attested and what evidence backs that claim.
type AttestationStatus struct {
	Trusted bool   `json:"trusted"`
	Details string `json:"details"`
}
