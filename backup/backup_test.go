package backup

import (
	"context"
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

func TestFileBackendRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	blob := []byte("sealed wallet key material")

	require.NoError(t, backend.Put(ctx, "wallet-abc", blob))

	fetched, err := backend.Fetch(ctx, "wallet-abc")
	require.NoError(t, err)
	assert.Equal(t, blob, fetched)

	// Overwrite replaces the previous version.
	require.NoError(t, backend.Put(ctx, "wallet-abc", []byte("v2")))
	fetched, err = backend.Fetch(ctx, "wallet-abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), fetched)
}

func TestFileBackendNotFound(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)

	_, err = backend.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrBackupNotFound)
}

func TestFileBackendRejectsPathTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, backend.Put(ctx, "../escape", []byte("x")))
	assert.Error(t, backend.Put(ctx, "a/b", []byte("x")))
	assert.Error(t, backend.Put(ctx, "", []byte("x")))
}

func TestFactorySchemes(t *testing.T) {
	factory := NewFactory(discardLogger())

	fileBackend, err := factory.BackendFor("file://" + t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, fileBackend)

	s3Backend, err := factory.BackendFor("s3://backups/wallets?region=eu-west-1")
	require.NoError(t, err)
	assert.IsType(t, &S3Backend{}, s3Backend)
	assert.Contains(t, s3Backend.LocationURI(), "region=eu-west-1")

	ipfsBackend, err := factory.BackendFor("ipfs://127.0.0.1:5001/wallets")
	require.NoError(t, err)
	assert.IsType(t, &IPFSBackend{}, ipfsBackend)

	vaultBackend, err := factory.BackendFor("vault://127.0.0.1:8200/secret/wallets?token=dev")
	require.NoError(t, err)
	assert.IsType(t, &VaultBackend{}, vaultBackend)
}

func TestFactoryRejectsInvalidURIs(t *testing.T) {
	factory := NewFactory(discardLogger())

	_, err := factory.BackendFor("gopher://whatever")
	assert.Error(t, err)

	_, err = factory.BackendFor("vault://127.0.0.1:8200/onlymount")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.BackendFor("s3://?region=us-east-1")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
