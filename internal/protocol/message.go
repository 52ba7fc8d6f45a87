// Package protocol defines the chunkferry wire protocol: length-framed
// envelopes carrying an externally-tagged JSON union of messages, plus the
// raw ciphertext payload that follows every ChunkMeta envelope.
package protocol

import (
	"encoding/json"
	"fmt"
)

// LoginRequest opens the challenge-response handshake.
type LoginRequest struct {
	ClientID string `json:"client_id"`
}

// LoginChallenge carries the per-connection salt issued by the server.
type LoginChallenge struct {
	Salt string `json:"salt"`
}

// LoginAnswer carries hex(SHA-256(password || salt)).
type LoginAnswer struct {
	Hash string `json:"hash"`
}

// Welcome confirms a successful login. The session id is opaque to clients.
type Welcome struct {
	SessionID string `json:"session_id"`
}

// ErrorMessage reports an authentication or policy failure.
type ErrorMessage struct {
	Text string `json:"text"`
}

// InitUpload declares a new upload and its total size in bytes.
type InitUpload struct {
	FileName  string `json:"file_name"`
	TotalSize uint64 `json:"total_size"`
}

// InitAck hands the client its upload id. The chunk_size field is reserved
// and always sent as 0; both sides use the fixed chunk size.
type InitAck struct {
	ChunkSize uint64 `json:"chunk_size"`
	UploadID  string `json:"upload_id"`
}

// ChunkMeta announces one encrypted chunk. Exactly Size raw ciphertext bytes
// follow this envelope on the same connection, outside any framing.
type ChunkMeta struct {
	UploadID   string `json:"upload_id"`
	ChunkIndex uint64 `json:"chunk_index"`
	Size       int    `json:"size"`
	Hash       string `json:"hash"`
}

// ChunkAck acknowledges a durably persisted chunk.
type ChunkAck struct {
	ChunkIndex uint64 `json:"chunk_index"`
}

// ChunkNack rejects a chunk; nothing was persisted and the client retries.
type ChunkNack struct {
	ChunkIndex uint64 `json:"chunk_index"`
}

// Complete requests assembly of all chunks into the final file.
type Complete struct {
	UploadID    string `json:"upload_id"`
	FileName    string `json:"file_name"`
	TotalChunks uint64 `json:"total_chunks"`
}

// Message is the tagged union of every wire message. Exactly one variant
// pointer is non-nil; on the wire it serializes as a JSON object with a
// single key named after the variant.
type Message struct {
	LoginRequest   *LoginRequest
	LoginChallenge *LoginChallenge
	LoginAnswer    *LoginAnswer
	Welcome        *Welcome
	ErrorMessage   *ErrorMessage
	InitUpload     *InitUpload
	InitAck        *InitAck
	ChunkMeta      *ChunkMeta
	ChunkAck       *ChunkAck
	ChunkNack      *ChunkNack
	Complete       *Complete
}

// Variant returns the wire name of the populated variant, or "" when the
// message is empty or ambiguous.
func (m *Message) Variant() string {
	name := ""
	n := 0
	set := func(s string) {
		name = s
		n++
	}
	if m.LoginRequest != nil {
		set("LoginRequest")
	}
	if m.LoginChallenge != nil {
		set("LoginChallenge")
	}
	if m.LoginAnswer != nil {
		set("LoginAnswer")
	}
	if m.Welcome != nil {
		set("Welcome")
	}
	if m.ErrorMessage != nil {
		set("ErrorMessage")
	}
	if m.InitUpload != nil {
		set("InitUpload")
	}
	if m.InitAck != nil {
		set("InitAck")
	}
	if m.ChunkMeta != nil {
		set("ChunkMeta")
	}
	if m.ChunkAck != nil {
		set("ChunkAck")
	}
	if m.ChunkNack != nil {
		set("ChunkNack")
	}
	if m.Complete != nil {
		set("Complete")
	}
	if n != 1 {
		return ""
	}
	return name
}

// MarshalJSON emits the externally-tagged form {"Variant": {fields...}}.
func (m *Message) MarshalJSON() ([]byte, error) {
	var inner interface{}
	switch name := m.Variant(); name {
	case "LoginRequest":
		inner = m.LoginRequest
	case "LoginChallenge":
		inner = m.LoginChallenge
	case "LoginAnswer":
		inner = m.LoginAnswer
	case "Welcome":
		inner = m.Welcome
	case "ErrorMessage":
		inner = m.ErrorMessage
	case "InitUpload":
		inner = m.InitUpload
	case "InitAck":
		inner = m.InitAck
	case "ChunkMeta":
		inner = m.ChunkMeta
	case "ChunkAck":
		inner = m.ChunkAck
	case "ChunkNack":
		inner = m.ChunkNack
	case "Complete":
		inner = m.Complete
	default:
		return nil, fmt.Errorf("message must hold exactly one variant")
	}
	return json.Marshal(map[string]interface{}{m.Variant(): inner})
}

// UnmarshalJSON parses the externally-tagged form. Zero keys, multiple keys,
// or an unknown variant name are all decode errors.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("expected exactly one variant key, got %d", len(raw))
	}

	*m = Message{}
	for name, fields := range raw {
		var dst interface{}
		switch name {
		case "LoginRequest":
			m.LoginRequest = &LoginRequest{}
			dst = m.LoginRequest
		case "LoginChallenge":
			m.LoginChallenge = &LoginChallenge{}
			dst = m.LoginChallenge
		case "LoginAnswer":
			m.LoginAnswer = &LoginAnswer{}
			dst = m.LoginAnswer
		case "Welcome":
			m.Welcome = &Welcome{}
			dst = m.Welcome
		case "ErrorMessage":
			m.ErrorMessage = &ErrorMessage{}
			dst = m.ErrorMessage
		case "InitUpload":
			m.InitUpload = &InitUpload{}
			dst = m.InitUpload
		case "InitAck":
			m.InitAck = &InitAck{}
			dst = m.InitAck
		case "ChunkMeta":
			m.ChunkMeta = &ChunkMeta{}
			dst = m.ChunkMeta
		case "ChunkAck":
			m.ChunkAck = &ChunkAck{}
			dst = m.ChunkAck
		case "ChunkNack":
			m.ChunkNack = &ChunkNack{}
			dst = m.ChunkNack
		case "Complete":
			m.Complete = &Complete{}
			dst = m.Complete
		default:
			return fmt.Errorf("unknown message variant %q", name)
		}
		if err := json.Unmarshal(fields, dst); err != nil {
			return err
		}
	}
	return nil
}
