package custody

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// SplitMasterSecret splits the local sealing master secret into shares, of
// which threshold are required to reconstruct it. The secret itself should be
// erased after distribution so it never rests on disk in one piece.
func SplitMasterSecret(secret []byte, threshold, shares int) ([][]byte, error) {
	if len(secret) < 32 {
		return nil, errors.New("master secret must be at least 32 bytes")
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if threshold > shares {
		return nil, errors.New("threshold cannot exceed share count")
	}

	out, err := shamir.Split(secret, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("splitting master secret: %w", err)
	}
	return out, nil
}

// RecoverMasterSecret reconstructs the master secret from a threshold of
// shares.
func RecoverMasterSecret(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("at least 2 shares required")
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("combining shares: %w", err)
	}
	return secret, nil
}
