package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Domain separation string for passphrase-derived keys.
const keyInfoString = "chunkferry-v1-chunk-key"

// Argon2id parameters for passphrase stretching.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// defaultKey is the built-in chunk encryption key. Transport secrecy is not
// the design goal; payload integrity binds to this shared key, and deployments
// that want a private key supply one via a key file.
var defaultKey = []byte("an example very very secret key.")

// DefaultKey returns a copy of the built-in 32-byte chunk key.
func DefaultKey() []byte {
	k := make([]byte, KeySize)
	copy(k, defaultKey)
	return k
}

// LoadKeyFile reads a key file written by keygen: 64 hex characters encoding
// a 32-byte key, surrounding whitespace ignored.
func LoadKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key file %s holds %d bytes", ErrInvalidKeySize, path, len(key))
	}
	return key, nil
}

// DeriveKeyFromPassphrase stretches a passphrase into a 32-byte chunk key.
//
// Argon2id provides the memory-hard stretch; HKDF-SHA256 with a fixed
// domain-separation info string expands the result, so the same passphrase
// always yields the same key on every machine.
func DeriveKeyFromPassphrase(passphrase string) ([]byte, error) {
	salt := sha256.Sum256([]byte(keyInfoString))
	stretched := argon2.IDKey([]byte(passphrase), salt[:16], argonTime, argonMemory, argonThreads, KeySize)

	key := make([]byte, KeySize)
	expand := hkdf.Expand(sha256.New, stretched, []byte(keyInfoString))
	if _, err := io.ReadFull(expand, key); err != nil {
		return nil, fmt.Errorf("HKDF expansion failed: %w", err)
	}
	return key, nil
}
