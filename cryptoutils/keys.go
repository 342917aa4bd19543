// Package cryptoutils provides the signing and sealing primitives used by the
// custody system: secp256k1 key handling and authenticated encryption for
// sealed key material.
package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GenerateSigningKey creates a fresh secp256k1 private key.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// SigningKeyBytes serializes a private key to its 32-byte scalar.
func SigningKeyBytes(key *ecdsa.PrivateKey) []byte {
	return ethcrypto.FromECDSA(key)
}

// SigningKeyFromBytes parses a 32-byte secp256k1 scalar.
func SigningKeyFromBytes(raw []byte) (*ecdsa.PrivateKey, error) {
	return ethcrypto.ToECDSA(raw)
}

// PublicKeyBytes serializes the public key to 65-byte uncompressed form.
func PublicKeyBytes(key *ecdsa.PrivateKey) []byte {
	return ethcrypto.FromECDSAPub(&key.PublicKey)
}

// SignDigest signs a 32-byte digest, producing a 65-byte [R || S || V]
// compact signature.
func SignDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, errors.New("digest must be 32 bytes")
	}
	return ethcrypto.Sign(digest, key)
}

// VerifyDigest checks a compact signature against a 65-byte uncompressed
// public key. Both 64-byte and 65-byte (with recovery id) signatures are
// accepted.
func VerifyDigest(publicKey, digest, signature []byte) (bool, error) {
	if len(digest) != 32 {
		return false, errors.New("digest must be 32 bytes")
	}

	switch len(signature) {
	case 64:
	case 65:
		signature = signature[:64]
	default:
		return false, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	return ethcrypto.VerifySignature(publicKey, digest, signature), nil
}

// Zeroize overwrites key material in place. Called on every unsealed key
// before the signing operation returns.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
