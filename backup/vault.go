package backup

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// VaultBackend stores backup blobs in a HashiCorp Vault KV v2 mount.
// Blob bytes are base64 encoded because Vault's KV store holds JSON values.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend. Authentication uses the
// provided token; address is the Vault server URL.
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Put writes a blob under its name, replacing any previous version.
func (b *VaultBackend) Put(ctx context.Context, name string, data []byte) error {
	start := time.Now()
	path := b.secretPath(name)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"blob": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write backup blob to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("failed to write backup blob to Vault: %w", err)
	}

	b.log.Debug("Stored backup blob in Vault",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Fetch reads a blob by name. Returns ErrBackupNotFound if no secret exists
// at the blob's path.
func (b *VaultBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	path := b.secretPath(name)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read backup blob from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("failed to read backup blob from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrBackupNotFound
	}

	// KV v2 wraps the stored keys in a nested "data" map.
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", path)
	}
	encoded, ok := inner["blob"].(string)
	if !ok {
		return nil, fmt.Errorf("blob key not found in Vault data at %s", path)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Vault blob: %w", err)
	}

	b.log.Debug("Fetched backup blob from Vault",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// secretPath builds the KV v2 data path for a blob name.
func (b *VaultBackend) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, name)
}
