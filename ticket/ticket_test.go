package ticket

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiero/claw-cash-sub001/auth"
	"github.com/tiero/claw-cash-sub001/interfaces"
	"github.com/tiero/claw-cash-sub001/ratelimit"
	"github.com/tiero/claw-cash-sub001/store"
)

var (
	testSecret = []byte("fedcba9876543210fedcba9876543210")
	testDigest = mustDigest("a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4")
)

func mustDigest(s string) interfaces.DigestHash {
	d, err := interfaces.NewDigestHash(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	store  *store.Store
	issuer *Issuer
	codec  *Codec
	user   *interfaces.User
	ident  *interfaces.Identity
}

func newFixture(t *testing.T, cfg IssuerConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	user, err := db.UpsertUser(ctx, "github:alice")
	require.NoError(t, err)

	ident := &interfaces.Identity{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Alg:       interfaces.Secp256k1,
		PublicKey: []byte{0x04},
		Status:    interfaces.IdentityActive,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateIdentity(ctx, ident))

	return &fixture{
		store:  db,
		issuer: NewIssuer(db, codec, ratelimit.NewSlidingWindow(), cfg, logger),
		codec:  codec,
		user:   user,
		ident:  ident,
	}
}

func defaultConfig() IssuerConfig {
	return IssuerConfig{TTL: 90 * time.Second, SignLimit: 10, SignWindow: time.Minute}
}

func sessionFor(user *interfaces.User) *auth.SessionClaims {
	return &auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		ExternalRef:      user.ExternalRef,
	}
}

func TestIssue(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, sessionFor(f.user), f.ident.ID, testDigest)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(90*time.Second), issued.ExpiresAt, time.Second)

	claims, err := f.codec.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, f.ident.ID, claims.IdentityID)
	assert.Equal(t, f.user.ID, claims.Subject)
	assert.Equal(t, testDigest.String(), claims.DigestHash)
	assert.Equal(t, interfaces.TicketScopeSign, claims.Scope)
	assert.NotEmpty(t, claims.Nonce)

	// The row is persisted unused
	row, err := f.store.GetTicket(ctx, claims.ID)
	require.NoError(t, err)
	assert.Nil(t, row.UsedAt)
	assert.Equal(t, testDigest, row.DigestHash)
}

func TestIssue_DistinctNonces(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	first, err := f.issuer.Issue(ctx, sessionFor(f.user), f.ident.ID, testDigest)
	require.NoError(t, err)
	second, err := f.issuer.Issue(ctx, sessionFor(f.user), f.ident.ID, testDigest)
	require.NoError(t, err)

	c1, err := f.codec.Verify(first.Token)
	require.NoError(t, err)
	c2, err := f.codec.Verify(second.Token)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Nonce, c2.Nonce, "Each ticket carries a fresh nonce")
	assert.NotEqual(t, c1.ID, c2.ID, "Each ticket carries a fresh jti")
}

func TestIssue_RejectsForeignIdentity(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	other, err := f.store.UpsertUser(ctx, "github:mallory")
	require.NoError(t, err)

	_, err = f.issuer.Issue(ctx, sessionFor(other), f.ident.ID, testDigest)
	assert.ErrorIs(t, err, interfaces.ErrIdentityNotFound, "Foreign identities look absent")
}

func TestIssue_RejectsDestroyedIdentity(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, f.store.MarkIdentityDestroyed(ctx, f.ident.ID))

	_, err := f.issuer.Issue(ctx, sessionFor(f.user), f.ident.ID, testDigest)
	assert.ErrorIs(t, err, interfaces.ErrIdentityDestroyed)
}

func TestIssue_SigningRateLimit(t *testing.T) {
	cfg := defaultConfig()
	cfg.SignLimit = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.issuer.Issue(ctx, sessionFor(f.user), f.ident.ID, testDigest)
		require.NoError(t, err, "issue %d should pass", i+1)
	}

	_, err := f.issuer.Issue(ctx, sessionFor(f.user), f.ident.ID, testDigest)
	assert.ErrorIs(t, err, interfaces.ErrRateLimitExceeded)
}

func TestCodec_RejectsTampering(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	claims := newClaims(uuid.NewString(), "user", "ident", testDigest, []byte{1, 2}, time.Now().Add(time.Minute))
	token, err := codec.Sign(claims)
	require.NoError(t, err)

	otherCodec, err := NewCodec([]byte("00000000000000000000000000000000"))
	require.NoError(t, err)
	_, err = otherCodec.Verify(token)
	assert.ErrorIs(t, err, interfaces.ErrTicketInvalid)

	_, err = codec.Verify(token + "x")
	assert.ErrorIs(t, err, interfaces.ErrTicketInvalid)
}

func TestCodec_Expiry(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	claims := newClaims(uuid.NewString(), "user", "ident", testDigest, []byte{1}, time.Now().Add(-time.Second))
	token, err := codec.Sign(claims)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, interfaces.ErrTicketExpired)
}

func TestCodec_RejectsWrongScope(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	claims := newClaims(uuid.NewString(), "user", "ident", testDigest, []byte{1}, time.Now().Add(time.Minute))
	claims.Scope = "export"
	token, err := codec.Sign(claims)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, interfaces.ErrTicketInvalid)
}
