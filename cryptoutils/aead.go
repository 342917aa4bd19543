package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSealingKey derives a 32-byte AEAD key from a master secret via
// HKDF-SHA256. The info string domain-separates derived keys so the same
// master secret can back multiple purposes.
func DeriveSealingKey(masterSecret []byte, info string) ([]byte, error) {
	if len(masterSecret) < 32 {
		return nil, errors.New("master secret must be at least 32 bytes")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}
	return key, nil
}

// EncryptAEAD seals plaintext with AES-256-GCM. The random nonce is prepended
// to the ciphertext.
func EncryptAEAD(key, plaintext, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return append(nonce, aead.Seal(nil, nonce, plaintext, additionalData)...), nil
}

// DecryptAEAD reverses EncryptAEAD. Authentication failure returns an error
// without revealing which byte failed.
func DecryptAEAD(key, sealed, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("opening sealed blob: %w", err)
	}
	return plaintext, nil
}

// RandomNonce returns n cryptographically random bytes.
func RandomNonce(n int) ([]byte, error) {
	nonce := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}
