package manager

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Upload is the server-side state bound to one upload_id, spanning from
// InitUpload to Complete. Persisted chunks live as files under TempDir;
// the directory contents are the authoritative record of received indices.
type Upload struct {
	ID           string
	FileName     string
	TempDir      string
	DeclaredSize uint64
	CreatedAt    time.Time

	mu             sync.Mutex
	chunksReceived uint64
	bytesReceived  uint64
}

// NewUpload creates the session state for a freshly issued upload id.
func NewUpload(id, fileName, tempDir string, declaredSize uint64) *Upload {
	return &Upload{
		ID:           id,
		FileName:     fileName,
		TempDir:      tempDir,
		DeclaredSize: declaredSize,
		CreatedAt:    time.Now(),
	}
}

// ChunkPath returns the on-disk path for chunk index.
func (u *Upload) ChunkPath(index uint64) string {
	return filepath.Join(u.TempDir, fmt.Sprintf("chunk_%d", index))
}

// RecordChunk updates receipt counters after a durable write.
func (u *Upload) RecordChunk(plaintextBytes int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chunksReceived++
	u.bytesReceived += uint64(plaintextBytes)
}

// Progress returns the chunk and byte counters.
func (u *Upload) Progress() (chunks, bytes uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.chunksReceived, u.bytesReceived
}
