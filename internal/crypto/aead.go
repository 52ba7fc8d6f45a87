// Package crypto provides the symmetric primitives chunkferry relies on:
// AES-256-GCM chunk encryption with a random nonce prefix, SHA-256 transport
// hashing, and encryption key loading/derivation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// Overhead is the ciphertext expansion per chunk: nonce prefix plus tag.
	Overhead = NonceSize + TagSize
)

var (
	// ErrInvalidKeySize is returned when the provided key is not 32 bytes.
	ErrInvalidKeySize = errors.New("key must be exactly 32 bytes for AES-256")

	// ErrCiphertextTooShort is returned when a blob cannot even hold the
	// nonce prefix.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrAuthenticationFailed is returned when GCM tag verification fails.
	ErrAuthenticationFailed = errors.New("authentication failed: ciphertext has been tampered with")
)

// EncryptChunk encrypts one chunk under key with AES-256-GCM.
//
// A fresh 12-byte nonce is drawn from crypto/rand for every call and
// concatenated as the first 12 bytes of the output, so the blob layout is
// nonce || ciphertext || tag. Nonces must never repeat under one key; the
// per-call random draw is the discipline that guarantees it.
func EncryptChunk(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce[:NonceSize], plaintext, nil), nil
}

// DecryptChunk reverses EncryptChunk. It splits off the 12-byte nonce prefix
// and authenticates the remainder; tampered or truncated input never yields
// partial plaintext.
func DecryptChunk(blob, key []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, ErrCiphertextTooShort
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
