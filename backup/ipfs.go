package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// IPFSBackend stores backup blobs in an IPFS node's mutable file system
// (MFS), so blobs stay addressable by name rather than by content hash.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	rootDir     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS storage backend connected to the node's
// API endpoint. Blobs are kept under rootDir in the node's MFS.
func NewIPFSBackend(host, port, rootDir string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	rootDir = "/" + strings.Trim(rootDir, "/")

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		rootDir:     rootDir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, rootDir),
	}, nil
}

// Put writes a blob into MFS under its name, replacing any previous version.
// Returns an error if the IPFS node is not reachable.
func (b *IPFSBackend) Put(ctx context.Context, name string, data []byte) error {
	start := time.Now()

	if !b.shell.IsUp() {
		return fmt.Errorf("ipfs node %s:%s is not reachable", b.host, b.port)
	}

	mfsPath := b.mfsPath(name)
	err := b.shell.FilesWrite(ctx, mfsPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		b.log.Error("Failed to store backup blob in IPFS",
			slog.String("path", mfsPath),
			"err", err)
		return fmt.Errorf("failed to store backup blob in IPFS: %w", err)
	}

	b.log.Debug("Stored backup blob in IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Fetch reads a blob from MFS by name. Returns ErrBackupNotFound if the
// path does not exist.
func (b *IPFSBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()

	if !b.shell.IsUp() {
		return nil, fmt.Errorf("ipfs node %s:%s is not reachable", b.host, b.port)
	}

	mfsPath := b.mfsPath(name)
	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no such file") {
			return nil, interfaces.ErrBackupNotFound
		}
		b.log.Error("Failed to fetch backup blob from IPFS",
			slog.String("path", mfsPath),
			"err", err)
		return nil, fmt.Errorf("failed to fetch backup blob from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read IPFS blob: %w", err)
	}

	b.log.Debug("Fetched backup blob from IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(name string) string {
	return path.Join(b.rootDir, name)
}
