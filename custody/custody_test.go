package custody

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMasterSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(testMasterSecret(t))
	require.NoError(t, err)

	plain := make([]byte, 32)
	_, err = rand.Read(plain)
	require.NoError(t, err)

	sealed, err := store.Seal(ctx, plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	opened, err := store.Unseal(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened, "unseal(seal(K)) must equal K byte for byte")
}

func TestLocalStore_UnsealFailures(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(testMasterSecret(t))
	require.NoError(t, err)

	sealed, err := store.Seal(ctx, []byte("key material"))
	require.NoError(t, err)

	// Tampered blob
	sealed[len(sealed)-1] ^= 0x01
	_, err = store.Unseal(ctx, sealed)
	assert.ErrorIs(t, err, interfaces.ErrCustodyUnseal)

	// A store with a different master secret cannot unseal
	sealed[len(sealed)-1] ^= 0x01
	other, err := NewLocalStore(testMasterSecret(t))
	require.NoError(t, err)
	_, err = other.Unseal(ctx, sealed)
	assert.ErrorIs(t, err, interfaces.ErrCustodyUnseal)

	// Truncated blob
	_, err = store.Unseal(ctx, []byte{1, 2, 3})
	assert.ErrorIs(t, err, interfaces.ErrCustodyUnseal)
}

func TestLocalStore_AttestationUntrusted(t *testing.T) {
	store, err := NewLocalStore(testMasterSecret(t))
	require.NoError(t, err)

	status, err := store.AttestationStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Trusted, "Local sealing carries no attestation")
	assert.NotEmpty(t, status.Details)
}

func TestFactory_SchemeSelection(t *testing.T) {
	factory := NewFactory(discardLogger(), testMasterSecret(t), DummyAttestationProvider{})

	store, err := factory.StoreFor("local://")
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	store, err = factory.StoreFor("awskms://alias/wallet-sealing?region=eu-west-1")
	require.NoError(t, err)
	assert.IsType(t, &KMSStore{}, store)

	_, err = factory.StoreFor("vault://whatever")
	assert.Error(t, err, "Unknown schemes must be rejected")
}

func TestShamirRoundTrip(t *testing.T) {
	secret := testMasterSecret(t)

	shares, err := SplitMasterSecret(secret, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	// Any threshold-sized subset reconstructs the secret
	recovered, err := RecoverMasterSecret(shares[1:4])
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	// Parameter validation
	_, err = SplitMasterSecret(secret, 6, 5)
	assert.Error(t, err, "threshold above share count must fail")
	_, err = SplitMasterSecret(secret, 1, 5)
	assert.Error(t, err, "threshold below 2 must fail")
	_, err = SplitMasterSecret([]byte("short"), 3, 5)
	assert.Error(t, err, "short secrets must fail")
}
