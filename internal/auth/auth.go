// Package auth implements the per-connection challenge-response login shared
// by both sides of the wire protocol.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chunkferry/chunkferry/internal/protocol"
)

// AccessDeniedText is the error text the server sends for a bad answer.
const AccessDeniedText = "Access Denied: Wrong Password"

var (
	// ErrAccessDenied is returned by the client side when the server rejects
	// the login answer.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnexpectedReply is returned when the peer breaks the handshake
	// sequence.
	ErrUnexpectedReply = errors.New("unexpected reply during login")
)

// Credentials resolves the password for a client id. The concrete user
// database is a collaborator; deployments plug their own.
type Credentials interface {
	Lookup(clientID string) (password string, ok bool)
}

// StaticUsers is an in-memory credential stub.
type StaticUsers map[string]string

// Lookup implements Credentials.
func (u StaticUsers) Lookup(clientID string) (string, bool) {
	password, ok := u[clientID]
	return password, ok
}

// DefaultUsers returns the single built-in principal.
func DefaultUsers() StaticUsers {
	return StaticUsers{"admin": "secret123"}
}

// Digest computes the challenge answer: hex(SHA-256(password || salt)) with
// ASCII concatenation. Both sides must agree on this byte-for-byte.
func Digest(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// NewSalt issues a fresh per-connection challenge value.
func NewSalt() string {
	return uuid.NewString()
}

// Login runs the client side of the handshake on an already-connected codec.
// On success it returns the opaque session id. A server rejection surfaces as
// ErrAccessDenied wrapping the server's text.
func Login(codec *protocol.Codec, clientID, secret string) (string, error) {
	err := codec.Write(&protocol.Message{
		LoginRequest: &protocol.LoginRequest{ClientID: clientID},
	})
	if err != nil {
		return "", fmt.Errorf("send login request: %w", err)
	}

	reply, err := codec.Read()
	if err != nil {
		return "", fmt.Errorf("await challenge: %w", err)
	}
	if reply.ErrorMessage != nil {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, reply.ErrorMessage.Text)
	}
	if reply.LoginChallenge == nil {
		return "", fmt.Errorf("%w: got %s, want LoginChallenge", ErrUnexpectedReply, reply.Variant())
	}

	err = codec.Write(&protocol.Message{
		LoginAnswer: &protocol.LoginAnswer{Hash: Digest(secret, reply.LoginChallenge.Salt)},
	})
	if err != nil {
		return "", fmt.Errorf("send login answer: %w", err)
	}

	reply, err = codec.Read()
	if err != nil {
		return "", fmt.Errorf("await welcome: %w", err)
	}
	if reply.ErrorMessage != nil {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, reply.ErrorMessage.Text)
	}
	if reply.Welcome == nil {
		return "", fmt.Errorf("%w: got %s, want Welcome", ErrUnexpectedReply, reply.Variant())
	}
	return reply.Welcome.SessionID, nil
}
