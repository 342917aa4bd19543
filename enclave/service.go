// Package enclave implements the signing service that runs inside the
// trusted boundary. It is the only component that ever touches plaintext
// private keys, and only for the duration of a single seal or sign call.
package enclave

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tiero/claw-cash-sub001/cryptoutils"
	"github.com/tiero/claw-cash-sub001/interfaces"
	"github.com/tiero/claw-cash-sub001/metrics"
	"github.com/tiero/claw-cash-sub001/ticket"
)

var (
	identitiesCreatedCounter = metrics.GetOrCreateCounter(`claw_cash_identities_created_total`)
	signaturesIssuedCounter  = metrics.GetOrCreateCounter(`claw_cash_signatures_issued_total`)
	ticketsReplayedCounter   = metrics.GetOrCreateCounter(`claw_cash_tickets_replayed_total`)
)

// ServiceConfig carries the enclave policy switches.
type ServiceConfig struct {
	// ExportEnabled gates the plaintext backup export path. Off by
	// default; flipping it on is an operator decision recorded in the audit
	// trail by the first export.
	ExportEnabled bool
}

// Service implements interfaces.Enclave against a custody store and the
// relational data model. All state transitions emit audit events; sign and
// destroy additionally notify the webhook receiver.
type Service struct {
	store    interfaces.Store
	custody  interfaces.CustodyStore
	codec    *ticket.Codec
	notifier interfaces.Notifier
	backup   interfaces.BackupBackend
	cfg      ServiceConfig
	log      *slog.Logger
}

// NewService creates the enclave service. backup may be nil when no backup
// location is configured; Export then fails regardless of the feature flag.
func NewService(store interfaces.Store, custody interfaces.CustodyStore, codec *ticket.Codec, notifier interfaces.Notifier, backup interfaces.BackupBackend, cfg ServiceConfig, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		custody:  custody,
		codec:    codec,
		notifier: notifier,
		backup:   backup,
		cfg:      cfg,
		log:      log,
	}
}

// CreateIdentity generates a fresh secp256k1 keypair, seals the private key
// and persists the identity with its sealed blob. The plaintext key exists
// only on this call's stack and is zeroed before returning.
func (s *Service) CreateIdentity(ctx context.Context, userID string) (*interfaces.Identity, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	key, err := cryptoutils.GenerateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	plainKey := cryptoutils.SigningKeyBytes(key)
	defer cryptoutils.Zeroize(plainKey)

	sealed, err := s.custody.Seal(ctx, plainKey)
	if err != nil {
		return nil, fmt.Errorf("sealing signing key: %w", err)
	}

	now := time.Now().UTC()
	identity := &interfaces.Identity{
		ID:        uuid.NewString(),
		UserID:    userID,
		Alg:       interfaces.Secp256k1,
		PublicKey: cryptoutils.PublicKeyBytes(key),
		Status:    interfaces.IdentityActive,
		CreatedAt: now,
	}

	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		return nil, err
	}
	if err := s.store.PutSealedKey(ctx, &interfaces.SealedKey{
		IdentityID: identity.ID,
		Alg:        identity.Alg,
		SealedKey:  sealed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return nil, err
	}

	identitiesCreatedCounter.Inc()
	s.audit(ctx, userID, identity.ID, interfaces.AuditIdentityCreate, "")
	s.log.Info("Created identity",
		slog.String("identity_id", identity.ID),
		slog.String("user_id", userID))

	return identity, nil
}

// Sign validates a ticket token, consumes the ticket exactly once, and
// produces a signature over digest with the identity's unsealed key.
//
// The ticket is consumed before the digest comparison: a mismatched request
// burns its ticket rather than leaving it live for a retry with different
// bytes. Losing the consumption race is recorded as a replay attempt.
func (s *Service) Sign(ctx context.Context, ticketToken string, digest []byte) ([]byte, error) {
	claims, err := s.codec.Verify(ticketToken)
	if err != nil {
		return nil, err
	}

	row, err := s.store.GetTicket(ctx, claims.ID)
	if err != nil {
		return nil, err
	}

	won, err := s.store.ConsumeTicket(ctx, row.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		ticketsReplayedCounter.Inc()
		s.audit(ctx, claims.Subject, row.IdentityID, interfaces.AuditTicketReplayed, "ticket="+row.ID)
		s.log.Warn("Rejected replayed ticket",
			slog.String("ticket_id", row.ID),
			slog.String("identity_id", row.IdentityID))
		return nil, interfaces.ErrTicketAlreadyUsed
	}

	requested, err := interfaces.NewDigestHashFromBytes(digest)
	if err != nil {
		return nil, interfaces.ErrDigestMismatch
	}
	if !row.DigestHash.ConstantTimeEqual(requested) {
		return nil, interfaces.ErrDigestMismatch
	}

	identity, err := s.store.GetIdentity(ctx, row.IdentityID)
	if err != nil {
		return nil, err
	}
	if identity.Status == interfaces.IdentityDestroyed {
		return nil, interfaces.ErrIdentityDestroyed
	}

	sealed, err := s.store.GetSealedKey(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	plainKey, err := s.custody.Unseal(ctx, sealed.SealedKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zeroize(plainKey)

	key, err := cryptoutils.SigningKeyFromBytes(plainKey)
	if err != nil {
		return nil, fmt.Errorf("decoding unsealed key: %w", err)
	}

	signature, err := cryptoutils.SignDigest(key, digest)
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}

	signaturesIssuedCounter.Inc()
	s.audit(ctx, claims.Subject, identity.ID, interfaces.AuditIdentitySign, "ticket="+row.ID)
	s.notifier.Notify(ctx, interfaces.AuditIdentitySign, map[string]string{
		"identity_id": identity.ID,
		"ticket_id":   row.ID,
		"digest":      row.DigestHash.String(),
	})

	return signature, nil
}

// Destroy marks the identity destroyed and discards its sealed key. The
// operation is idempotent; destroying a destroyed identity changes nothing
// and succeeds.
func (s *Service) Destroy(ctx context.Context, identityID string) error {
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	alreadyDestroyed := identity.Status == interfaces.IdentityDestroyed

	if err := s.store.MarkIdentityDestroyed(ctx, identityID); err != nil {
		return err
	}
	if err := s.store.DeleteSealedKey(ctx, identityID); err != nil {
		return err
	}

	if !alreadyDestroyed {
		s.audit(ctx, identity.UserID, identityID, interfaces.AuditIdentityDestroy, "")
		s.notifier.Notify(ctx, interfaces.AuditIdentityDestroy, map[string]string{
			"identity_id": identityID,
		})
		s.log.Info("Destroyed identity", slog.String("identity_id", identityID))
	}

	return nil
}

// Restore re-derives the identity's public key from its sealed blob after a
// stateless enclave restart and checks it against the supplied one. A
// destroyed identity cannot be restored; its sealed key is gone.
func (s *Service) Restore(ctx context.Context, identityID string, publicKey []byte) error {
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Status == interfaces.IdentityDestroyed {
		return interfaces.ErrIdentityDestroyed
	}

	sealed, err := s.store.GetSealedKey(ctx, identityID)
	if err != nil {
		return err
	}

	plainKey, err := s.custody.Unseal(ctx, sealed.SealedKey)
	if err != nil {
		return err
	}
	defer cryptoutils.Zeroize(plainKey)

	key, err := cryptoutils.SigningKeyFromBytes(plainKey)
	if err != nil {
		return fmt.Errorf("decoding unsealed key: %w", err)
	}

	if !bytes.Equal(cryptoutils.PublicKeyBytes(key), publicKey) ||
		!bytes.Equal(identity.PublicKey, publicKey) {
		return interfaces.ErrPublicKeyMismatch
	}

	s.audit(ctx, identity.UserID, identityID, interfaces.AuditIdentityRestore, "")
	s.log.Info("Restored identity", slog.String("identity_id", identityID))

	return nil
}

// Export unseals the identity's key and writes the plaintext material to the
// configured backup backend. This is the escape hatch for operators migrating
// keys out of custody: it is off unless the export feature flag is set, and
// every use leaves an audit event.
func (s *Service) Export(ctx context.Context, identityID string) (string, error) {
	if !s.cfg.ExportEnabled || s.backup == nil {
		return "", interfaces.ErrExportDisabled
	}

	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return "", err
	}
	if identity.Status == interfaces.IdentityDestroyed {
		return "", interfaces.ErrIdentityDestroyed
	}

	sealed, err := s.store.GetSealedKey(ctx, identityID)
	if err != nil {
		return "", err
	}

	plainKey, err := s.custody.Unseal(ctx, sealed.SealedKey)
	if err != nil {
		return "", err
	}
	defer cryptoutils.Zeroize(plainKey)

	name := "key-" + identityID
	if err := s.backup.Put(ctx, name, plainKey); err != nil {
		return "", fmt.Errorf("writing backup blob: %w", err)
	}

	location := s.backup.LocationURI()
	s.audit(ctx, identity.UserID, identityID, interfaces.AuditKeyExported, "location="+location)
	s.log.Info("Exported plaintext key",
		slog.String("identity_id", identityID),
		slog.String("location", location))

	return location, nil
}

// AttestationStatus reports the custody backend's attestation state.
func (s *Service) AttestationStatus(ctx context.Context) (interfaces.AttestationStatus, error) {
	return s.custody.AttestationStatus(ctx)
}

// audit appends an audit event, logging rather than failing when the append
// itself errors. The triggering operation has already happened; losing the
// trail entry must not roll it back.
func (s *Service) audit(ctx context.Context, userID, identityID, action, metadata string) {
	err := s.store.AppendAuditEvent(ctx, &interfaces.AuditEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		IdentityID: identityID,
		Action:     action,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("Failed to append audit event",
			slog.String("action", action),
			slog.String("identity_id", identityID),
			"err", err)
	}
}
