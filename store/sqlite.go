// Package store implements the relational persistence contract on SQLite via
// database/sql. The schema holds users, identities, tickets, sealed keys,
// audit events and the rate-limit counter buckets.
//
// Ticket consumption is the one correctness-critical concurrent operation: it
// is a conditional UPDATE that succeeds only while used_at is null, so the
// first committer wins regardless of which process the duplicate request
// arrived on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	external_ref TEXT NOT NULL UNIQUE,
	status       TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	alg        TEXT NOT NULL,
	public_key BLOB NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id          TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL REFERENCES identities(id),
	digest_hash BLOB NOT NULL,
	scope       TEXT NOT NULL,
	nonce       BLOB NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	used_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sealed_keys (
	identity_id TEXT PRIMARY KEY REFERENCES identities(id),
	alg         TEXT NOT NULL,
	sealed_key  BLOB NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	identity_id TEXT,
	action      TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_buckets (
	bucket     TEXT PRIMARY KEY,
	count      INTEGER NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

// Store is the SQLite-backed implementation of interfaces.Store.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func New(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite handles one writer at a time; serializing here avoids busy
	// errors under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertUser creates the user on first challenge confirmation, or promotes a
// pending row to active. An already-active user is returned unchanged.
func (s *Store) UpsertUser(ctx context.Context, externalRef string) (*interfaces.User, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	// A fresh row starts out pending and the confirmation promotes it in
	// the second statement. A crash between the two leaves a pending row
	// that the next confirmation picks up.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, external_ref, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(external_ref) DO NOTHING`,
		id, externalRef, interfaces.UserPending, now); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ? WHERE external_ref = ? AND status = ?`,
		interfaces.UserActive, externalRef, interfaces.UserPending); err != nil {
		return nil, fmt.Errorf("activating user: %w", err)
	}

	return s.getUserBy(ctx, "external_ref", externalRef)
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*interfaces.User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (*interfaces.User, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, external_ref, status, created_at FROM users WHERE %s = ?`, column), value)

	var u interfaces.User
	if err := row.Scan(&u.ID, &u.ExternalRef, &u.Status, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &u, nil
}

// CreateIdentity persists a new identity row.
func (s *Store) CreateIdentity(ctx context.Context, identity *interfaces.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, alg, public_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.UserID, identity.Alg, identity.PublicKey, identity.Status, identity.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// GetIdentity fetches an identity by id.
func (s *Store) GetIdentity(ctx context.Context, id string) (*interfaces.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, alg, public_key, status, created_at FROM identities WHERE id = ?`, id)

	var ident interfaces.Identity
	if err := row.Scan(&ident.ID, &ident.UserID, &ident.Alg, &ident.PublicKey, &ident.Status, &ident.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	return &ident, nil
}

// MarkIdentityDestroyed flips the identity to destroyed. Idempotent.
func (s *Store) MarkIdentityDestroyed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET status = ? WHERE id = ?`, interfaces.IdentityDestroyed, id)
	if err != nil {
		return fmt.Errorf("destroying identity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("destroying identity: %w", err)
	}
	if affected == 0 {
		return interfaces.ErrIdentityNotFound
	}
	return nil
}

// CreateTicket persists a freshly issued ticket with used_at null.
func (s *Store) CreateTicket(ctx context.Context, ticket *interfaces.Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, identity_id, digest_hash, scope, nonce, expires_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		ticket.ID, ticket.IdentityID, ticket.DigestHash.Bytes(), ticket.Scope, ticket.Nonce, ticket.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

// GetTicket fetches a ticket by jti.
func (s *Store) GetTicket(ctx context.Context, id string) (*interfaces.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity_id, digest_hash, scope, nonce, expires_at, used_at FROM tickets WHERE id = ?`, id)

	var (
		t      interfaces.Ticket
		digest []byte
		usedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.IdentityID, &digest, &t.Scope, &t.Nonce, &t.ExpiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrTicketNotFound
		}
		return nil, fmt.Errorf("loading ticket: %w", err)
	}

	dh, err := interfaces.NewDigestHashFromBytes(digest)
	if err != nil {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}
	t.DigestHash = dh

	if usedAt.Valid {
		used := usedAt.Time
		t.UsedAt = &used
	}
	return &t, nil
}

// ConsumeTicket marks the ticket used, but only if it is currently unused.
// Returns true if this call won the race. The conditional UPDATE is atomic in
// SQLite, giving exactly-once semantics across processes sharing the file.
func (s *Store) ConsumeTicket(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET used_at = ? WHERE id = ? AND used_at IS NULL`, usedAt.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("consuming ticket: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming ticket: %w", err)
	}
	return affected == 1, nil
}

// PutSealedKey inserts or replaces the sealed key blob for an identity.
func (s *Store) PutSealedKey(ctx context.Context, key *interfaces.SealedKey) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sealed_keys (identity_id, alg, sealed_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity_id) DO UPDATE SET sealed_key = excluded.sealed_key, updated_at = excluded.updated_at`,
		key.IdentityID, key.Alg, key.SealedKey, now, now)
	if err != nil {
		return fmt.Errorf("storing sealed key: %w", err)
	}
	return nil
}

// GetSealedKey fetches the sealed key blob for an identity.
func (s *Store) GetSealedKey(ctx context.Context, identityID string) (*interfaces.SealedKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity_id, alg, sealed_key, created_at, updated_at FROM sealed_keys WHERE identity_id = ?`, identityID)

	var k interfaces.SealedKey
	if err := row.Scan(&k.IdentityID, &k.Alg, &k.SealedKey, &k.CreatedAt, &k.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("loading sealed key: %w", err)
	}
	return &k, nil
}

// DeleteSealedKey irrecoverably discards the sealed blob. Deleting an absent
// row is a no-op so destroy stays idempotent.
func (s *Store) DeleteSealedKey(ctx context.Context, identityID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sealed_keys WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("deleting sealed key: %w", err)
	}
	return nil
}

// AppendAuditEvent records one security-relevant transition. Audit rows are
// never updated or deleted.
func (s *Store) AppendAuditEvent(ctx context.Context, event *interfaces.AuditEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, user_id, identity_id, action, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, event.UserID, event.IdentityID, event.Action, event.Metadata, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Count returns the current value of a rate bucket, treating expired buckets
// as absent.
func (s *Store) Count(ctx context.Context, bucket string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count FROM rate_buckets WHERE bucket = ? AND expires_at > ?`, bucket, time.Now().UTC())

	var count int64
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading rate bucket: %w", err)
	}
	return count, nil
}

// Increment adds one to a rate bucket, creating it with the given TTL.
// Expired buckets are reset rather than resumed.
func (s *Store) Increment(ctx context.Context, bucket string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_buckets (bucket, count, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT(bucket) DO UPDATE SET
			count = CASE WHEN rate_buckets.expires_at <= ? THEN 1 ELSE rate_buckets.count + 1 END,
			expires_at = CASE WHEN rate_buckets.expires_at <= ? THEN excluded.expires_at ELSE rate_buckets.expires_at END`,
		bucket, now.Add(ttl), now, now)
	if err != nil {
		return fmt.Errorf("incrementing rate bucket: %w", err)
	}
	return nil
}
