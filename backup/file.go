package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// FileBackend stores backup blobs on the local file system. It is intended
// for development and for single-host deployments with an encrypted disk;
// the blobs it receives are already sealed, so the directory itself does not
// need to be secret.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir,
// creating the directory if it does not exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put writes a blob under its name, replacing any previous version.
func (b *FileBackend) Put(ctx context.Context, name string, data []byte) error {
	path, err := b.blobPath(name)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup blob: %w", err)
	}

	b.log.Debug("Stored backup blob",
		slog.String("name", name),
		slog.Int("size", len(data)))

	return nil
}

// Fetch reads a blob by name. Returns ErrBackupNotFound if it does not exist.
func (b *FileBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	path, err := b.blobPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrBackupNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read backup blob: %w", err)
	}

	return data, nil
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// blobPath maps a blob name to a path under baseDir, rejecting names that
// would escape it.
func (b *FileBackend) blobPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid backup blob name: %q", name)
	}
	return filepath.Join(b.baseDir, name), nil
}
