package custody

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// encryptionContext ties every ciphertext to the wallet-sealing purpose so a
// blob cannot be decrypted under a different KMS grant.
var encryptionContext = map[string]*string{
	"purpose": aws.String("claw-cash-wallet-sealing"),
}

// KMSStore seals key material through AWS KMS. The unwrap key never leaves
// the key-management service; the key policy is expected to restrict Decrypt
// to callers presenting valid enclave attestation, so host compromise without
// attestation cannot recover plaintext.
type KMSStore struct {
	client   *kms.KMS
	keyID    string
	provider AttestationProvider
	log      *slog.Logger
}

// NewKMSStore creates a KMS-backed custody store for the given key id (or
// ARN) and region.
func NewKMSStore(keyID, region string, provider AttestationProvider, log *slog.Logger) (*KMSStore, error) {
	if keyID == "" {
		return nil, fmt.Errorf("kms key id must not be empty")
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	return &KMSStore{
		client:   kms.New(sess),
		keyID:    keyID,
		provider: provider,
		log:      log,
	}, nil
}

// Seal wraps key material under the KMS key.
func (s *KMSStore) Seal(ctx context.Context, plainKey []byte) ([]byte, error) {
	out, err := s.client.EncryptWithContext(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         plainKey,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Unseal unwraps a sealed blob. Failures are fatal for the request; there is
// deliberately no fallback to a weaker unsealing path.
func (s *KMSStore) Unseal(ctx context.Context, sealedBlob []byte) ([]byte, error) {
	out, err := s.client.DecryptWithContext(ctx, &kms.DecryptInput{
		KeyId:             aws.String(s.keyID),
		CiphertextBlob:    sealedBlob,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kms decrypt: %v", interfaces.ErrCustodyUnseal, err)
	}
	return out.Plaintext, nil
}

// AttestationStatus is trusted when the attestation provider can produce
// evidence for this environment. The report data binds the evidence to the
// configured KMS key.
func (s *KMSStore) AttestationStatus(_ context.Context) (interfaces.AttestationStatus, error) {
	if s.provider == nil {
		return interfaces.AttestationStatus{
			Trusted: false,
			Details: fmt.Sprintf("kms key %s; no attestation provider configured", s.keyID),
		}, nil
	}

	var reportData [64]byte
	keyHash := sha256.Sum256([]byte(s.keyID))
	copy(reportData[:32], keyHash[:])

	evidence, err := s.provider.Attest(reportData)
	if err != nil {
		s.log.Error("Attestation failed", "err", err)
		return interfaces.AttestationStatus{
			Trusted: false,
			Details: fmt.Sprintf("kms key %s; attestation failed", s.keyID),
		}, nil
	}
	if len(evidence) == 0 {
		return interfaces.AttestationStatus{
			Trusted: false,
			Details: fmt.Sprintf("kms key %s; attestation provider returned no evidence", s.keyID),
		}, nil
	}

	return interfaces.AttestationStatus{
		Trusted: true,
		Details: fmt.Sprintf("kms key %s; attestation evidence %d bytes", s.keyID, len(evidence)),
	}, nil
}
