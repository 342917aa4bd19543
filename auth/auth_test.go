package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiero/claw-cash-sub001/interfaces"
	"github.com/tiero/claw-cash-sub001/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, challengeTTL time.Duration) (*ChallengeManager, *SessionSigner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions, err := NewSessionSigner(testSecret, time.Hour)
	require.NoError(t, err)

	mgr := NewChallengeManager(db, sessions, "https://wallet.example.com", challengeTTL, logger)
	mgr.Start()
	t.Cleanup(mgr.Stop)
	return mgr, sessions
}

func TestSessionSigner_IssueAndVerify(t *testing.T) {
	sessions, err := NewSessionSigner(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := sessions.Issue("user-1", "github:alice")
	require.NoError(t, err)

	claims, err := sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "github:alice", claims.ExternalRef)
}

func TestSessionSigner_RejectsTampering(t *testing.T) {
	sessions, err := NewSessionSigner(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := sessions.Issue("user-1", "")
	require.NoError(t, err)

	// Wrong secret
	other, err := NewSessionSigner([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, interfaces.ErrSessionInvalid)

	// Mangled token
	_, err = sessions.Verify(token + "x")
	assert.ErrorIs(t, err, interfaces.ErrSessionInvalid)

	// Garbage
	_, err = sessions.Verify("not-a-token")
	assert.ErrorIs(t, err, interfaces.ErrSessionInvalid)
}

func TestSessionSigner_Expiry(t *testing.T) {
	sessions, err := NewSessionSigner(testSecret, -time.Second)
	assert.Error(t, err, "Non-positive TTL should be rejected")

	sessions, err = NewSessionSigner(testSecret, time.Millisecond)
	require.NoError(t, err)

	token, err := sessions.Issue("user-1", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = sessions.Verify(token)
	assert.ErrorIs(t, err, interfaces.ErrSessionExpired)
}

func TestChallengeFlow(t *testing.T) {
	mgr, sessions := newTestManager(t, 5*time.Minute)
	ctx := context.Background()

	ch, err := mgr.Create(ctx, "github:alice")
	require.NoError(t, err)
	assert.Contains(t, ch.ConfirmationLink, ch.ID)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), ch.ExpiresAt, time.Second)

	// Unconfirmed polls always report pending
	for i := 0; i < 3; i++ {
		_, err = mgr.Verify(ctx, ch.ID)
		assert.ErrorIs(t, err, interfaces.ErrChallengePending)
	}

	require.NoError(t, mgr.Confirm(ctx, ch.ID, ""))

	grant, err := mgr.Verify(ctx, ch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3600, grant.ExpiresIn)
	assert.Equal(t, "github:alice", grant.User.ExternalRef)
	assert.Equal(t, interfaces.UserActive, grant.User.Status)

	// The session token must verify
	claims, err := sessions.Verify(grant.Token)
	require.NoError(t, err)
	assert.Equal(t, grant.User.ID, claims.Subject)

	// The challenge is consumed: no second session
	_, err = mgr.Verify(ctx, ch.ID)
	assert.ErrorIs(t, err, interfaces.ErrChallengeNotFound)

	// Reconfirmation is not a new session either
	err = mgr.Confirm(ctx, ch.ID, "")
	assert.Error(t, err)
}

func TestChallengeExpiry(t *testing.T) {
	mgr, _ := newTestManager(t, 10*time.Millisecond)
	ctx := context.Background()

	ch, err := mgr.Create(ctx, "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = mgr.Verify(ctx, ch.ID)
	assert.ErrorIs(t, err, interfaces.ErrChallengeExpired, "Expired challenge should never verify")

	err = mgr.Confirm(ctx, ch.ID, "")
	assert.ErrorIs(t, err, interfaces.ErrChallengeExpired, "Expired challenge cannot be confirmed")
}

func TestChallengeUnknown(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	_, err := mgr.Verify(ctx, "no-such-id")
	assert.ErrorIs(t, err, interfaces.ErrChallengeNotFound)

	err = mgr.Confirm(ctx, "no-such-id", "")
	assert.ErrorIs(t, err, interfaces.ErrChallengeNotFound)
}

func TestChallengeAnonymousBinding(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	ch, err := mgr.Create(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Confirm(ctx, ch.ID, ""))

	grant, err := mgr.Verify(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "challenge:"+ch.ID, grant.User.ExternalRef)
}
