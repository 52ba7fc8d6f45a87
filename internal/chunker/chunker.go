// Package chunker partitions a file into the fixed-size pieces the wire
// protocol transmits and acknowledges.
package chunker

import (
	"fmt"
	"io"
	"os"
)

// ChunkSize is the fixed chunk size: 4 MiB. Chunk i covers file bytes
// [i*ChunkSize, min((i+1)*ChunkSize, fileSize)).
const ChunkSize int64 = 4 << 20

// Count returns ceil(fileSize / ChunkSize). An empty file has zero chunks.
func Count(fileSize int64) uint64 {
	if fileSize <= 0 {
		return 0
	}
	return uint64((fileSize + ChunkSize - 1) / ChunkSize)
}

// Length returns the exact byte length of chunk index for a file of the
// given size. The final chunk may be short but is never empty for a
// nonempty file.
func Length(fileSize int64, index uint64) int64 {
	offset := int64(index) * ChunkSize
	if offset >= fileSize {
		return 0
	}
	remaining := fileSize - offset
	if remaining > ChunkSize {
		return ChunkSize
	}
	return remaining
}

// ReadChunk reads chunk chunkIndex of the file at filePath with a seek and a
// single bounded read. Workers call this per popped index; the file is never
// streamed sequentially.
func ReadChunk(filePath string, chunkIndex uint64) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	offset := int64(chunkIndex) * ChunkSize
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to offset %d: %w", offset, err)
	}

	buf := make([]byte, ChunkSize)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read chunk %d: %w", chunkIndex, err)
	}
	return buf[:n], nil
}
