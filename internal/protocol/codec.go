package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// LengthPrefixSize is the size of the big-endian frame length prefix.
	LengthPrefixSize = 4

	// MaxEnvelopeSize bounds a single JSON envelope. Envelopes carry only
	// metadata; chunk ciphertext travels outside framing.
	MaxEnvelopeSize = 1 << 20
)

var (
	ErrEnvelopeTooLarge = errors.New("envelope exceeds maximum frame size")
	ErrAmbiguousMessage = errors.New("message must hold exactly one variant")
)

// Codec frames messages over a byte stream: a 4-byte unsigned big-endian
// length prefix followed by that many bytes of JSON. It also moves the raw
// chunk payload that follows a ChunkMeta envelope.
type Codec struct {
	rw io.ReadWriter
}

// NewCodec wraps a connection (or any stream) in the envelope framing.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// Write serializes m and sends it as one envelope.
func (c *Codec) Write(m *Message) error {
	if m.Variant() == "" {
		return ErrAmbiguousMessage
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(payload) > MaxEnvelopeSize {
		return ErrEnvelopeTooLarge
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := c.rw.Write(prefix[:]); err != nil {
		return err
	}
	_, err = c.rw.Write(payload)
	return err
}

// Read blocks for the next envelope. EOF or a dropped connection surfaces as
// an error for which IsDisconnect reports true; both sides treat that as a
// clean termination rather than a peer-visible failure.
func (c *Codec) Read() (*Message, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(c.rw, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxEnvelopeSize {
		return nil, ErrEnvelopeTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return nil, err
	}

	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &m, nil
}

// WritePayload sends the raw ciphertext bytes p immediately after a ChunkMeta
// envelope, outside any framing.
func (c *Codec) WritePayload(p []byte) error {
	_, err := c.rw.Write(p)
	return err
}

// ReadPayload reads exactly size raw ciphertext bytes.
func (c *Codec) ReadPayload(size int) ([]byte, error) {
	p := make([]byte, size)
	if _, err := io.ReadFull(c.rw, p); err != nil {
		return nil, err
	}
	return p, nil
}

// IsDisconnect reports whether err is the ordinary end of a connection:
// EOF mid-stream, a reset, or a closed socket.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}
