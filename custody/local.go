package custody

import (
	"context"
	"fmt"

	"github.com/tiero/claw-cash-sub001/cryptoutils"
	"github.com/tiero/claw-cash-sub001/interfaces"
)

// sealingKeyInfo domain-separates the sealing key derived from the master
// secret. Changing it invalidates every existing sealed blob.
const sealingKeyInfo = "claw-cash wallet sealing v1"

// sealingContext is bound into the AEAD as additional data.
var sealingContext = []byte("wallet-key")

// LocalStore seals key material with AES-256-GCM under a key derived from the
// process's master secret. Suitable for single-tenant and development
// deployments; the sealing key lives alongside the process, so it offers no
// protection against host compromise.
type LocalStore struct {
	sealingKey []byte
}

// NewLocalStore derives the sealing key from the master secret.
func NewLocalStore(masterSecret []byte) (*LocalStore, error) {
	key, err := cryptoutils.DeriveSealingKey(masterSecret, sealingKeyInfo)
	if err != nil {
		return nil, err
	}
	return &LocalStore{sealingKey: key}, nil
}

// Seal encrypts key material for at-rest storage.
func (s *LocalStore) Seal(_ context.Context, plainKey []byte) ([]byte, error) {
	sealed, err := cryptoutils.EncryptAEAD(s.sealingKey, plainKey, sealingContext)
	if err != nil {
		return nil, fmt.Errorf("sealing key material: %w", err)
	}
	return sealed, nil
}

// Unseal recovers key material from a sealed blob.
func (s *LocalStore) Unseal(_ context.Context, sealedBlob []byte) ([]byte, error) {
	plain, err := cryptoutils.DecryptAEAD(s.sealingKey, sealedBlob, sealingContext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCustodyUnseal, err)
	}
	return plain, nil
}

// AttestationStatus reports untrusted: local sealing carries no environment
// attestation.
func (s *LocalStore) AttestationStatus(_ context.Context) (interfaces.AttestationStatus, error) {
	return interfaces.AttestationStatus{
		Trusted: false,
		Details: "local software sealing; sealing key held in process memory, no attestation",
	}, nil
}
