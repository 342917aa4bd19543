package store

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(":memory:", logger)
	require.NoError(t, err, "Failed to open in-memory store")
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestIdentity(t *testing.T, s *Store) *interfaces.Identity {
	t.Helper()
	ctx := context.Background()

	user, err := s.UpsertUser(ctx, "ext-"+uuid.NewString())
	require.NoError(t, err)

	ident := &interfaces.Identity{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Alg:       interfaces.Secp256k1,
		PublicKey: []byte{0x04, 0x01, 0x02},
		Status:    interfaces.IdentityActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateIdentity(ctx, ident))
	return ident
}

func TestUpsertUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.UpsertUser(ctx, "github:alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.UserActive, user.Status)
	assert.Equal(t, "github:alice", user.ExternalRef)

	// Upserting again returns the same row, not a new user
	again, err := s.UpsertUser(ctx, "github:alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID, "Upsert should not create a second user for the same ref")

	loaded, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ExternalRef, loaded.ExternalRef)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrUserNotFound)
}

func TestUpsertUserPromotesPendingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.UpsertUser(ctx, "github:bob")
	require.NoError(t, err)
	require.Equal(t, interfaces.UserActive, user.Status)

	// Simulate a confirmation that created the row but died before the
	// promotion step.
	_, err = s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`,
		interfaces.UserPending, user.ID)
	require.NoError(t, err)

	promoted, err := s.UpsertUser(ctx, "github:bob")
	require.NoError(t, err)
	assert.Equal(t, user.ID, promoted.ID)
	assert.Equal(t, interfaces.UserActive, promoted.Status, "Pending row should be promoted, not replaced")
}

func TestIdentityLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ident := createTestIdentity(t, s)

	loaded, err := s.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.IdentityActive, loaded.Status)
	assert.Equal(t, ident.PublicKey, loaded.PublicKey)

	require.NoError(t, s.MarkIdentityDestroyed(ctx, ident.ID))
	loaded, err = s.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.IdentityDestroyed, loaded.Status)

	// Destroy is idempotent
	require.NoError(t, s.MarkIdentityDestroyed(ctx, ident.ID))

	err = s.MarkIdentityDestroyed(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrIdentityNotFound)
}

func TestConsumeTicket_FirstCommitterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := createTestIdentity(t, s)

	digest, err := interfaces.NewDigestHash("a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4")
	require.NoError(t, err)

	ticket := &interfaces.Ticket{
		ID:         uuid.NewString(),
		IdentityID: ident.ID,
		DigestHash: digest,
		Scope:      interfaces.TicketScopeSign,
		Nonce:      []byte{1, 2, 3, 4},
		ExpiresAt:  time.Now().Add(90 * time.Second),
	}
	require.NoError(t, s.CreateTicket(ctx, ticket))

	loaded, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.UsedAt, "Fresh ticket should be unused")
	assert.Equal(t, digest, loaded.DigestHash)

	won, err := s.ConsumeTicket(ctx, ticket.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, won, "First consumption should win")

	won, err = s.ConsumeTicket(ctx, ticket.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, won, "Second consumption must lose")

	loaded, err = s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.NotNil(t, loaded.UsedAt, "used_at should be set after consumption")
}

func TestConsumeTicket_ConcurrentRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := createTestIdentity(t, s)

	ticket := &interfaces.Ticket{
		ID:         uuid.NewString(),
		IdentityID: ident.ID,
		DigestHash: interfaces.DigestHash{0xaa},
		Scope:      interfaces.TicketScopeSign,
		Nonce:      []byte{0},
		ExpiresAt:  time.Now().Add(time.Minute),
	}
	require.NoError(t, s.CreateTicket(ctx, ticket))

	const racers = 16
	var (
		wg   sync.WaitGroup
		wins = make(chan bool, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ConsumeTicket(ctx, ticket.ID, time.Now())
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "Exactly one racer must win the consumption")
}

func TestSealedKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := createTestIdentity(t, s)

	key := &interfaces.SealedKey{
		IdentityID: ident.ID,
		Alg:        interfaces.Secp256k1,
		SealedKey:  []byte("sealed blob"),
	}
	require.NoError(t, s.PutSealedKey(ctx, key))

	loaded, err := s.GetSealedKey(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed blob"), loaded.SealedKey)

	// Replacing updates in place
	key.SealedKey = []byte("resealed blob")
	require.NoError(t, s.PutSealedKey(ctx, key))
	loaded, err = s.GetSealedKey(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("resealed blob"), loaded.SealedKey)

	require.NoError(t, s.DeleteSealedKey(ctx, ident.ID))
	_, err = s.GetSealedKey(ctx, ident.ID)
	assert.ErrorIs(t, err, interfaces.ErrIdentityNotFound)

	// Deleting again is a no-op
	require.NoError(t, s.DeleteSealedKey(ctx, ident.ID))
}

func TestAuditEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := createTestIdentity(t, s)

	err := s.AppendAuditEvent(ctx, &interfaces.AuditEvent{
		UserID:     ident.UserID,
		IdentityID: ident.ID,
		Action:     interfaces.AuditIdentitySign,
		Metadata:   `{"digest":"a1b2"}`,
	})
	require.NoError(t, err)
}

func TestRateBuckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.Count(ctx, "user:alice:42")
	require.NoError(t, err)
	assert.Zero(t, count, "Absent bucket should read as zero")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Increment(ctx, "user:alice:42", time.Minute))
	}
	count, err = s.Count(ctx, "user:alice:42")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// Expired buckets read as zero and reset on the next increment
	require.NoError(t, s.Increment(ctx, "user:bob:42", -time.Second))
	count, err = s.Count(ctx, "user:bob:42")
	require.NoError(t, err)
	assert.Zero(t, count, "Expired bucket should read as zero")

	require.NoError(t, s.Increment(ctx, "user:bob:42", time.Minute))
	count, err = s.Count(ctx, "user:bob:42")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "Expired bucket should reset, not resume")
}
