package manager

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var bucketHistory = []byte("history")

// HistoryEntry records one completed merge.
type HistoryEntry struct {
	UploadID    string    `json:"upload_id"`
	FileName    string    `json:"file_name"`
	SizeBytes   uint64    `json:"size_bytes"`
	TotalChunks uint64    `json:"total_chunks"`
	Digest      string    `json:"digest"`
	Duration    float64   `json:"duration_seconds"`
	CompletedAt time.Time `json:"completed_at"`
}

// History is a Bolt-backed log of completed uploads. It is purely
// operational; the upload protocol never reads it.
type History struct {
	db *bolt.DB
}

// OpenHistory opens or creates the history database.
func OpenHistory(path string) (*History, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketHistory)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

// Close closes the underlying database.
func (h *History) Close() error { return h.db.Close() }

// Record stores one completed upload keyed by its upload id.
func (h *History) Record(entry HistoryEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketHistory)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put([]byte(entry.UploadID), value)
	})
}

// Get returns the entry for an upload id, or ErrUploadNotFound.
func (h *History) Get(uploadID string) (*HistoryEntry, error) {
	var entry *HistoryEntry
	err := h.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketHistory)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		v := bk.Get([]byte(uploadID))
		if v == nil {
			return ErrUploadNotFound
		}
		entry = &HistoryEntry{}
		return json.Unmarshal(v, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GC removes entries completed before maxAge ago.
func (h *History) GC(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := h.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketHistory)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		c := bk.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry HistoryEntry
			if json.Unmarshal(v, &entry) != nil {
				continue
			}
			if entry.CompletedAt.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
