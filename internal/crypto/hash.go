package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashHex returns hex(SHA-256(data)). It is the transport integrity hash a
// client claims in ChunkMeta and the server recomputes over the received
// ciphertext.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
