package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("some chunk bytes")

	blob, err := EncryptChunk(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptChunk failed: %v", err)
	}

	if len(blob) != len(plaintext)+Overhead {
		t.Errorf("blob length = %d, want %d", len(blob), len(plaintext)+Overhead)
	}

	got, err := DecryptChunk(blob, key)
	if err != nil {
		t.Fatalf("DecryptChunk failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mangled plaintext")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	blob, err := EncryptChunk([]byte("payload"), key)
	if err != nil {
		t.Fatalf("EncryptChunk failed: %v", err)
	}

	// Flip one byte past the nonce prefix.
	blob[NonceSize] ^= 0xFF

	if _, err := DecryptChunk(blob, key); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("DecryptChunk = %v, want ErrAuthenticationFailed", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	blob, err := EncryptChunk([]byte("payload"), testKey(t))
	if err != nil {
		t.Fatalf("EncryptChunk failed: %v", err)
	}

	if _, err := DecryptChunk(blob, testKey(t)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("DecryptChunk = %v, want ErrAuthenticationFailed", err)
	}
}

func TestDecryptRejectsShortBlob(t *testing.T) {
	if _, err := DecryptChunk(make([]byte, NonceSize-1), testKey(t)); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("DecryptChunk = %v, want ErrCiphertextTooShort", err)
	}
}

func TestEncryptRejectsBadKeySize(t *testing.T) {
	if _, err := EncryptChunk([]byte("x"), make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("EncryptChunk = %v, want ErrInvalidKeySize", err)
	}
}

func TestNonceFreshness(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same input every time")

	seen := make(map[string]bool)
	for i := 0; i < 256; i++ {
		blob, err := EncryptChunk(plaintext, key)
		if err != nil {
			t.Fatalf("EncryptChunk failed: %v", err)
		}
		nonce := string(blob[:NonceSize])
		if seen[nonce] {
			t.Fatal("nonce repeated across calls")
		}
		seen[nonce] = true
	}
}

func TestEmptyPlaintext(t *testing.T) {
	key := testKey(t)
	blob, err := EncryptChunk(nil, key)
	if err != nil {
		t.Fatalf("EncryptChunk failed: %v", err)
	}
	if len(blob) != Overhead {
		t.Errorf("blob length = %d, want %d", len(blob), Overhead)
	}
	got, err := DecryptChunk(blob, key)
	if err != nil {
		t.Fatalf("DecryptChunk failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("plaintext length = %d, want 0", len(got))
	}
}
