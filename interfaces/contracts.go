package interfaces

import (
	"context"
	"time"
)

// CustodyStore seals and unseals private key material. Implementations hold
// the only path from sealed blobs back to plaintext keys; callers must zero
// any plaintext they receive before returning.
type CustodyStore interface {
	// Seal encrypts key material for at-rest storage.
	Seal(ctx context.Context, plainKey []byte) ([]byte, error)

	// Unseal recovers key material from a sealed blob. The returned slice is
	// owned by the caller and must be zeroed after use.
	Unseal(ctx context.Context, sealedBlob []byte) ([]byte, error)

	// AttestationStatus reports whether unsealing is bound to an attested
	// environment.
	AttestationStatus(ctx context.Context) (AttestationStatus, error)
}

// RateLimiter is the admission-control capability. Backends are swappable
// without touching callers; construct one per process and pass it by
// reference into request handlers.
type RateLimiter interface {
	// Allow reports whether another action under key is admitted given at
	// most limit actions per window. A false return is an expected
	// steady-state outcome, not an error.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// CounterStore backs the fixed-window rate limiter with shared counters.
// Increment is not atomic with respect to Count; concurrent bursts can
// slightly over-admit, an accepted trade-off for distributed deployment.
type CounterStore interface {
	// Count returns the current value of the bucket, 0 if absent or expired.
	Count(ctx context.Context, bucket string) (int64, error)

	// Increment adds one to the bucket, creating it with the given TTL.
	Increment(ctx context.Context, bucket string, ttl time.Duration) error
}

// Store is the relational persistence contract for the custody data model.
type Store interface {
	// UpsertUser creates the user on first confirmation or activates a
	// pending row. It never demotes an active user.
	UpsertUser(ctx context.Context, externalRef string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// MarkIdentityDestroyed is idempotent; destroying a destroyed identity
	// affects nothing.
	MarkIdentityDestroyed(ctx context.Context, id string) error

	CreateTicket(ctx context.Context, ticket *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	// ConsumeTicket sets used_at only if it is currently null and reports
	// whether this call won the race. This is the sole concurrency-safety
	// mechanism for exactly-once signing and must be atomic in the database,
	// not via in-process locking.
	ConsumeTicket(ctx context.Context, id string, usedAt time.Time) (bool, error)

	PutSealedKey(ctx context.Context, key *SealedKey) error
	GetSealedKey(ctx context.Context, identityID string) (*SealedKey, error)
	// DeleteSealedKey irrecoverably discards the sealed blob.
	DeleteSealedKey(ctx context.Context, identityID string) error

	AppendAuditEvent(ctx context.Context, event *AuditEvent) error

	CounterStore
}

// Notifier delivers best-effort event notifications. Delivery failures are
// logged and never propagate to the triggering operation.
type Notifier interface {
	Notify(ctx context.Context, action string, payload map[string]string)
}

// Enclave is the operation surface of the enclave signer, implemented by the
// in-process service and by the HTTP client the public API tier uses.
type Enclave interface {
	CreateIdentity(ctx context.Context, userID string) (*Identity, error)
	Sign(ctx context.Context, ticketToken string, digest []byte) ([]byte, error)
	Destroy(ctx context.Context, identityID string) error
	Restore(ctx context.Context, identityID string, publicKey []byte) error
	AttestationStatus(ctx context.Context) (AttestationStatus, error)
}

// BackupBackend stores encrypted backup blobs outside the enclave boundary.
// Backends are created from location URIs by the backup factory.
type BackupBackend interface {
	Put(ctx context.Context, name string, data []byte) error
	Fetch(ctx context.Context, name string) ([]byte, error)

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}
