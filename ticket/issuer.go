package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tiero/claw-cash-sub001/auth"
	"github.com/tiero/claw-cash-sub001/cryptoutils"
	"github.com/tiero/claw-cash-sub001/interfaces"
)

// nonceSize is the per-ticket random nonce length in bytes.
const nonceSize = 16

// IssuerConfig carries the issuance policy.
type IssuerConfig struct {
	// TTL is the ticket lifetime. Kept short to bound the replay window if a
	// ticket is intercepted.
	TTL time.Duration

	// SignLimit and SignWindow bound signatures per identity. Tighter than
	// the general per-user throttle because each signature can move funds.
	SignLimit  int
	SignWindow time.Duration
}

// Issued is the result of a successful issuance.
type Issued struct {
	Token     string    `json:"ticket_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints scoped, single-use signing authorizations. Issuance is gated
// on a valid session, an active identity owned by that session's user, and
// the per-identity signing rate limit.
type Issuer struct {
	store   interfaces.Store
	codec   *Codec
	limiter interfaces.RateLimiter
	cfg     IssuerConfig
	log     *slog.Logger
}

// NewIssuer creates a ticket issuer.
func NewIssuer(store interfaces.Store, codec *Codec, limiter interfaces.RateLimiter, cfg IssuerConfig, log *slog.Logger) *Issuer {
	return &Issuer{store: store, codec: codec, limiter: limiter, cfg: cfg, log: log}
}

// Issue mints a ticket authorizing exactly one signature over digest by the
// given identity. The session has already been verified by the caller.
func (i *Issuer) Issue(ctx context.Context, session *auth.SessionClaims, identityID string, digest interfaces.DigestHash) (*Issued, error) {
	identity, err := i.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	// Identities of other users are indistinguishable from absent ones.
	if identity.UserID != session.Subject {
		return nil, interfaces.ErrIdentityNotFound
	}
	if identity.Status != interfaces.IdentityActive {
		return nil, interfaces.ErrIdentityDestroyed
	}

	allowed, err := i.limiter.Allow(ctx, "sign:"+identityID, i.cfg.SignLimit, i.cfg.SignWindow)
	if err != nil {
		return nil, fmt.Errorf("checking signing rate limit: %w", err)
	}
	if !allowed {
		return nil, interfaces.ErrRateLimitExceeded
	}

	nonce, err := cryptoutils.RandomNonce(nonceSize)
	if err != nil {
		return nil, fmt.Errorf("generating ticket nonce: %w", err)
	}

	jti := uuid.NewString()
	expiresAt := time.Now().Add(i.cfg.TTL)

	if err := i.store.CreateTicket(ctx, &interfaces.Ticket{
		ID:         jti,
		IdentityID: identityID,
		DigestHash: digest,
		Scope:      interfaces.TicketScopeSign,
		Nonce:      nonce,
		ExpiresAt:  expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("persisting ticket: %w", err)
	}

	token, err := i.codec.Sign(newClaims(jti, session.Subject, identityID, digest, nonce, expiresAt))
	if err != nil {
		return nil, err
	}

	i.log.Info("Ticket issued", "jti", jti, "identityID", identityID, "digest", digest.String())
	return &Issued{Token: token, ExpiresAt: expiresAt}, nil
}
