package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// expiredRetention keeps expired challenges around so polling clients get a
// ChallengeExpired answer instead of NotFound. After it passes, NotFound is
// acceptable.
const expiredRetention = 5 * time.Minute

// challengeState tracks one challenge through {Pending, Confirmed, Expired}.
// Confirmed and expired are terminal.
type challengeState struct {
	id          string
	externalRef string
	confirmed   bool
	expiresAt   time.Time
}

// Challenge is the public view returned on creation.
type Challenge struct {
	ID               string    `json:"challenge_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	ConfirmationLink string    `json:"confirmation_link"`
}

// SessionGrant is the result of verifying a confirmed challenge.
type SessionGrant struct {
	Token     string           `json:"session_token"`
	ExpiresIn int64            `json:"expires_in"`
	User      *interfaces.User `json:"user"`
}

// ChallengeManager orchestrates the liveness challenge flow. Clients poll
// Verify; the manager is a stateless responder with no per-poll side effects
// beyond reading current state.
type ChallengeManager struct {
	mu       sync.Mutex
	cache    *ttlcache.Cache[string, *challengeState]
	store    interfaces.Store
	sessions *SessionSigner
	baseURL  string
	ttl      time.Duration
	log      *slog.Logger
}

// NewChallengeManager creates a manager minting challenges with the given
// TTL. Call Start to run cache eviction and Stop on shutdown.
func NewChallengeManager(store interfaces.Store, sessions *SessionSigner, baseURL string, ttl time.Duration, log *slog.Logger) *ChallengeManager {
	cache := ttlcache.New[string, *challengeState](
		ttlcache.WithTTL[string, *challengeState](ttl+expiredRetention),
		ttlcache.WithDisableTouchOnHit[string, *challengeState](),
	)

	return &ChallengeManager{
		cache:    cache,
		store:    store,
		sessions: sessions,
		baseURL:  baseURL,
		ttl:      ttl,
		log:      log,
	}
}

// Start runs the cache eviction loop in the background.
func (m *ChallengeManager) Start() {
	go m.cache.Start()
}

// Stop terminates the eviction loop.
func (m *ChallengeManager) Stop() {
	m.cache.Stop()
}

// Create mints a new challenge with an optional pending external-identity
// binding, and returns the out-of-band confirmation link.
func (m *ChallengeManager) Create(_ context.Context, externalRef string) (*Challenge, error) {
	id := uuid.NewString()
	expiresAt := time.Now().Add(m.ttl)

	state := &challengeState{
		id:          id,
		externalRef: externalRef,
		expiresAt:   expiresAt,
	}

	m.mu.Lock()
	m.cache.Set(id, state, ttlcache.DefaultTTL)
	m.mu.Unlock()

	m.log.Debug("Challenge created", "challengeID", id)
	return &Challenge{
		ID:               id,
		ExpiresAt:        expiresAt,
		ConfirmationLink: fmt.Sprintf("%s/confirm/%s", m.baseURL, id),
	}, nil
}

// Confirm transitions a pending challenge to confirmed. A confirmed or
// expired challenge is terminal; reconfirmation fails rather than producing a
// new session.
func (m *ChallengeManager) Confirm(_ context.Context, id, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.lookup(id)
	if err != nil {
		return err
	}
	if state.confirmed {
		return interfaces.ErrChallengeNotFound
	}

	if externalRef != "" {
		state.externalRef = externalRef
	}
	if state.externalRef == "" {
		// No identity provider reference supplied on either side; bind the
		// user to the challenge itself.
		state.externalRef = "challenge:" + id
	}
	state.confirmed = true

	m.log.Info("Challenge confirmed", "challengeID", id)
	return nil
}

// Verify reports the challenge state: ErrChallengePending while unconfirmed
// and unexpired, a session grant on confirmation, ErrChallengeExpired past
// the deadline, ErrChallengeNotFound for unknown ids. Issuing the session
// consumes the challenge.
func (m *ChallengeManager) Verify(ctx context.Context, id string) (*SessionGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	if !state.confirmed {
		return nil, interfaces.ErrChallengePending
	}

	user, err := m.store.UpsertUser(ctx, state.externalRef)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	token, err := m.sessions.Issue(user.ID, user.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}

	// One session per confirmation.
	m.cache.Delete(id)

	m.log.Info("Session issued", "challengeID", id, "userID", user.ID)
	return &SessionGrant{
		Token:     token,
		ExpiresIn: int64(m.sessions.TTL().Seconds()),
		User:      user,
	}, nil
}

// lookup must be called with the mutex held. Expiry is checked against the
// recorded deadline, not cache eviction, so the transition is exact.
func (m *ChallengeManager) lookup(id string) (*challengeState, error) {
	item := m.cache.Get(id)
	if item == nil {
		return nil, interfaces.ErrChallengeNotFound
	}

	state := item.Value()
	if time.Now().After(state.expiresAt) {
		return nil, interfaces.ErrChallengeExpired
	}
	return state, nil
}
