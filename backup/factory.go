// Package backup stores exported key material outside the enclave boundary.
// Backends are addressed by location URI and keyed by blob name; the blobs
// they hold are ciphertext, so a backend compromise alone reveals nothing.
package backup

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// Factory creates backup backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a factory instance that can create backup backends.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a backup backend from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node MFS storage
//   - vault:// - HashiCorp Vault KV v2 storage
//
// Returns ErrInvalidLocationURI if the URI cannot be parsed, and an error
// naming the scheme if it is unsupported.
func (f *Factory) BackendFor(locationURI string) (interfaces.BackupBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "ipfs":
		return f.createIPFSBackend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("unsupported backup scheme: %s", u.Scheme)
	}
}

// createFileBackend creates a file system backup backend.
// URI format: file:///absolute/path
func (f *Factory) createFileBackend(u *url.URL) (interfaces.BackupBackend, error) {
	f.log.Debug("Creating file backup backend", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %q", interfaces.ErrInvalidLocationURI, u.String())
	}

	return NewFileBackend(path, f.log)
}

// createS3Backend creates an S3 or S3-compatible backup backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=minio.local:9000
func (f *Factory) createS3Backend(u *url.URL) (interfaces.BackupBackend, error) {
	f.log.Debug("Creating S3 backup backend", slog.String("uri", u.Redacted()))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSBackend creates an IPFS backup backend.
// URI format: ipfs://host:port/root-dir
func (f *Factory) createIPFSBackend(u *url.URL) (interfaces.BackupBackend, error) {
	f.log.Debug("Creating IPFS backup backend", slog.String("uri", u.String()))

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "5001"
	}

	rootDir := strings.Trim(u.Path, "/")
	if rootDir == "" {
		rootDir = "claw-cash-backups"
	}

	return NewIPFSBackend(host, port, rootDir, f.log)
}

// createVaultBackend creates a Vault backup backend.
// URI format: vault://host:8200/mount/data-path?token=...&tls=true
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.BackupBackend, error) {
	f.log.Debug("Creating Vault backup backend", slog.String("uri", u.Redacted()))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI requires /mount/data-path", interfaces.ErrInvalidLocationURI)
	}
	mountPath, dataPath := parts[0], parts[1]

	query := u.Query()
	token := query.Get("token")

	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultBackend(address, token, mountPath, dataPath, f.log)
}
