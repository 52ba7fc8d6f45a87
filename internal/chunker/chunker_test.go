package chunker

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCount(t *testing.T) {
	cases := []struct {
		size int64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{ChunkSize - 1, 1},
		{ChunkSize, 1},
		{ChunkSize + 1, 2},
		{10 * (1 << 20), 3}, // 10 MiB: 4 + 4 + 2
	}
	for _, c := range cases {
		if got := Count(c.size); got != c.want {
			t.Errorf("Count(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestLength(t *testing.T) {
	size := int64(10 * (1 << 20)) // 10 MiB
	if got := Length(size, 0); got != ChunkSize {
		t.Errorf("Length(chunk 0) = %d, want %d", got, ChunkSize)
	}
	if got := Length(size, 1); got != ChunkSize {
		t.Errorf("Length(chunk 1) = %d, want %d", got, ChunkSize)
	}
	if got := Length(size, 2); got != 2*(1<<20) {
		t.Errorf("Length(chunk 2) = %d, want %d", got, 2*(1<<20))
	}
	if got := Length(size, 3); got != 0 {
		t.Errorf("Length(chunk 3) = %d, want 0", got)
	}
}

func TestReadChunk(t *testing.T) {
	// 4 MiB + 100 bytes: one full chunk and a short tail.
	data := make([]byte, ChunkSize+100)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "input.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	chunk0, err := ReadChunk(path, 0)
	if err != nil {
		t.Fatalf("ReadChunk(0) failed: %v", err)
	}
	if int64(len(chunk0)) != ChunkSize {
		t.Errorf("chunk 0 length = %d, want %d", len(chunk0), ChunkSize)
	}
	if !bytes.Equal(chunk0, data[:ChunkSize]) {
		t.Error("chunk 0 bytes differ from source slice")
	}

	chunk1, err := ReadChunk(path, 1)
	if err != nil {
		t.Fatalf("ReadChunk(1) failed: %v", err)
	}
	if len(chunk1) != 100 {
		t.Errorf("tail chunk length = %d, want 100", len(chunk1))
	}
	if !bytes.Equal(chunk1, data[ChunkSize:]) {
		t.Error("tail chunk bytes differ from source slice")
	}
}

func TestReadChunkPastEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.bin")
	if err := os.WriteFile(path, []byte("tiny"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	chunk, err := ReadChunk(path, 5)
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if len(chunk) != 0 {
		t.Errorf("chunk past EOF has %d bytes, want 0", len(chunk))
	}
}
