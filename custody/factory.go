// Package custody implements the sealing and unsealing of wallet private
// keys: a local AEAD backend for single-tenant deployments, a remote AWS KMS
// backend whose unwrap key is released only to attested code, and the Shamir
// split of the local master secret so it never rests on disk in one piece.
//
// Backends implement the single interfaces.CustodyStore capability and are
// selected by configuration URI, not by subclassing.
package custody

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// Factory creates custody stores from location URIs.
//
// Supported schemes:
//   - local:// - AEAD sealing under a key derived from the master secret
//   - awskms://<key-id-or-arn>?region=<region> - AWS KMS wrapped keys
type Factory struct {
	log          *slog.Logger
	masterSecret []byte
	provider     AttestationProvider
}

// NewFactory creates a custody store factory. The master secret is only
// required for the local scheme; the attestation provider only for awskms.
func NewFactory(log *slog.Logger, masterSecret []byte, provider AttestationProvider) *Factory {
	return &Factory{log: log, masterSecret: masterSecret, provider: provider}
}

// StoreFor creates the custody store for a location URI.
func (f *Factory) StoreFor(locationURI string) (interfaces.CustodyStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid custody location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "local":
		return NewLocalStore(f.masterSecret)
	case "awskms":
		keyID := u.Host + u.Path
		region := u.Query().Get("region")
		if region == "" {
			region = "us-east-1"
		}
		return NewKMSStore(keyID, region, f.provider, f.log)
	default:
		return nil, fmt.Errorf("unsupported custody backend scheme: %s", u.Scheme)
	}
}
