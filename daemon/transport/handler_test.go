package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chunkferry/chunkferry/daemon/manager"
	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/crypto"
	"github.com/chunkferry/chunkferry/internal/observability"
	"github.com/chunkferry/chunkferry/internal/protocol"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		UploadsDir: t.TempDir(),
		Users:      auth.DefaultUsers(),
		Key:        crypto.DefaultKey(),
		Store:      manager.NewUploadStore(),
		Logger:     observability.NewLogger("ferryd-test", "0", io.Discard),
	}
}

// dialHandler wires a pipe into a running handler and returns the client end.
func dialHandler(t *testing.T, s *Server) *protocol.Codec {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() { clientEnd.Close() })
	go s.HandleConn(serverEnd)
	return protocol.NewCodec(clientEnd)
}

func login(t *testing.T, codec *protocol.Codec, secret string) error {
	t.Helper()
	_, err := auth.Login(codec, "admin", secret)
	return err
}

func initUpload(t *testing.T, codec *protocol.Codec, fileName string, totalSize uint64) string {
	t.Helper()
	err := codec.Write(&protocol.Message{
		InitUpload: &protocol.InitUpload{FileName: fileName, TotalSize: totalSize},
	})
	if err != nil {
		t.Fatalf("send InitUpload: %v", err)
	}
	reply, err := codec.Read()
	if err != nil {
		t.Fatalf("await InitAck: %v", err)
	}
	if reply.InitAck == nil {
		t.Fatalf("expected InitAck, got %s", reply.Variant())
	}
	if reply.InitAck.ChunkSize != 0 {
		t.Errorf("InitAck.chunk_size = %d, want reserved 0", reply.InitAck.ChunkSize)
	}
	return reply.InitAck.UploadID
}

func sendChunk(t *testing.T, codec *protocol.Codec, uploadID string, index uint64, ciphertext []byte, hash string) *protocol.Message {
	t.Helper()
	err := codec.Write(&protocol.Message{ChunkMeta: &protocol.ChunkMeta{
		UploadID:   uploadID,
		ChunkIndex: index,
		Size:       len(ciphertext),
		Hash:       hash,
	}})
	if err != nil {
		t.Fatalf("send ChunkMeta: %v", err)
	}
	if err := codec.WritePayload(ciphertext); err != nil {
		t.Fatalf("send payload: %v", err)
	}
	reply, err := codec.Read()
	if err != nil {
		t.Fatalf("await verdict: %v", err)
	}
	return reply
}

func TestAuthGateClosesConnection(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)

	// InitUpload before login must terminate the connection with no reply
	// and no filesystem change.
	err := codec.Write(&protocol.Message{
		InitUpload: &protocol.InitUpload{FileName: "a.bin", TotalSize: 1},
	})
	if err != nil {
		t.Fatalf("send InitUpload: %v", err)
	}

	if _, err := codec.Read(); err == nil {
		t.Fatal("expected the connection to terminate")
	}

	entries, err := os.ReadDir(s.UploadsDir)
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("uploads dir changed on unauthenticated request: %v", entries)
	}
	if s.Store.Count() != 0 {
		t.Errorf("store holds %d sessions, want 0", s.Store.Count())
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)

	err := login(t, codec, "wrong")
	if !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("login = %v, want ErrAccessDenied", err)
	}

	// The server closes after the error message.
	if _, err := codec.Read(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestPolicyViolationKeepsConnectionOpen(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	err := codec.Write(&protocol.Message{
		InitUpload: &protocol.InitUpload{FileName: "malware.exe", TotalSize: 10},
	})
	if err != nil {
		t.Fatalf("send InitUpload: %v", err)
	}
	reply, err := codec.Read()
	if err != nil {
		t.Fatalf("await reply: %v", err)
	}
	if reply.ErrorMessage == nil {
		t.Fatalf("expected ErrorMessage, got %s", reply.Variant())
	}
	if reply.ErrorMessage.Text != PolicyViolationText {
		t.Errorf("error text = %q", reply.ErrorMessage.Text)
	}
	if s.Store.Count() != 0 {
		t.Error("policy rejection must not create a session")
	}

	// The same connection accepts a compliant init afterwards.
	if uploadID := initUpload(t, codec, "report.pdf", 10); uploadID == "" {
		t.Error("expected an upload id")
	}
}

func TestMultipleInitUploadsAreIndependent(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	first := initUpload(t, codec, "a.bin", 1)
	second := initUpload(t, codec, "b.bin", 2)
	if first == second {
		t.Error("each InitUpload must create an independent session")
	}
	if s.Store.Count() != 2 {
		t.Errorf("store holds %d sessions, want 2", s.Store.Count())
	}
}

func TestChunkHashMismatchNacked(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	uploadID := initUpload(t, codec, "a.bin", 4)

	ciphertext, err := crypto.EncryptChunk([]byte("data"), s.Key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	reply := sendChunk(t, codec, uploadID, 0, ciphertext, "0000claimed-wrong-hash")
	if reply.ChunkNack == nil || reply.ChunkNack.ChunkIndex != 0 {
		t.Fatalf("expected ChunkNack{0}, got %s", reply.Variant())
	}
	if _, err := os.Stat(filepath.Join(s.UploadsDir, uploadID, "chunk_0")); !os.IsNotExist(err) {
		t.Error("nacked chunk must not be written to disk")
	}
}

func TestChunkDecryptFailureNacked(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	uploadID := initUpload(t, codec, "a.bin", 4)

	ciphertext, err := crypto.EncryptChunk([]byte("data"), s.Key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	// Corrupt the ciphertext but claim the matching hash: the transport
	// check passes and the AEAD must catch it.
	ciphertext[len(ciphertext)-1] ^= 0xFF

	reply := sendChunk(t, codec, uploadID, 0, ciphertext, crypto.HashHex(ciphertext))
	if reply.ChunkNack == nil {
		t.Fatalf("expected ChunkNack, got %s", reply.Variant())
	}
	if _, err := os.Stat(filepath.Join(s.UploadsDir, uploadID, "chunk_0")); !os.IsNotExist(err) {
		t.Error("nacked chunk must not be written to disk")
	}
}

func TestChunkUnknownUploadNacked(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	ciphertext, err := crypto.EncryptChunk([]byte("data"), s.Key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	reply := sendChunk(t, codec, "no-such-upload", 0, ciphertext, crypto.HashHex(ciphertext))
	if reply.ChunkNack == nil {
		t.Fatalf("expected ChunkNack, got %s", reply.Variant())
	}
}

func TestChunkAckedAndPersisted(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	uploadID := initUpload(t, codec, "a.bin", 4)

	plaintext := []byte("data")
	ciphertext, err := crypto.EncryptChunk(plaintext, s.Key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	reply := sendChunk(t, codec, uploadID, 2, ciphertext, crypto.HashHex(ciphertext))
	if reply.ChunkAck == nil || reply.ChunkAck.ChunkIndex != 2 {
		t.Fatalf("expected ChunkAck{2}, got %s", reply.Variant())
	}

	onDisk, err := os.ReadFile(filepath.Join(s.UploadsDir, uploadID, "chunk_2"))
	if err != nil {
		t.Fatalf("read persisted chunk: %v", err)
	}
	if string(onDisk) != string(plaintext) {
		t.Errorf("persisted chunk = %q, want %q", onDisk, plaintext)
	}
}

func TestDuplicateChunkOverwrites(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	uploadID := initUpload(t, codec, "a.bin", 4)

	for _, payload := range []string{"first", "second"} {
		ciphertext, err := crypto.EncryptChunk([]byte(payload), s.Key)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		reply := sendChunk(t, codec, uploadID, 0, ciphertext, crypto.HashHex(ciphertext))
		if reply.ChunkAck == nil {
			t.Fatalf("expected ChunkAck, got %s", reply.Variant())
		}
	}

	onDisk, err := os.ReadFile(filepath.Join(s.UploadsDir, uploadID, "chunk_0"))
	if err != nil {
		t.Fatalf("read persisted chunk: %v", err)
	}
	if string(onDisk) != "second" {
		t.Errorf("persisted chunk = %q, want the overwrite", onDisk)
	}
}

func TestCompleteMergesAndCleansUp(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	uploadID := initUpload(t, codec, "joined.bin", 6)

	// Deliver chunks out of order; the merge must still run ascending.
	for _, part := range []struct {
		index uint64
		data  string
	}{{1, "world"}, {0, "hello "}} {
		ciphertext, err := crypto.EncryptChunk([]byte(part.data), s.Key)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if reply := sendChunk(t, codec, uploadID, part.index, ciphertext, crypto.HashHex(ciphertext)); reply.ChunkAck == nil {
			t.Fatalf("expected ChunkAck, got %s", reply.Variant())
		}
	}

	err := codec.Write(&protocol.Message{Complete: &protocol.Complete{
		UploadID:    uploadID,
		FileName:    "joined.bin",
		TotalChunks: 2,
	}})
	if err != nil {
		t.Fatalf("send Complete: %v", err)
	}

	// No wire response is defined for Complete; poll the filesystem.
	outPath := filepath.Join(s.UploadsDir, "joined.bin")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if data, err := os.ReadFile(outPath); err == nil && string(data) == "hello world" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("merged file never appeared with the expected content")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(s.UploadsDir, uploadID)); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("temp dir was not removed after merge")
}

func TestStrayVariantIgnoredWhenAuthenticated(t *testing.T) {
	s := testServer(t)
	codec := dialHandler(t, s)
	if err := login(t, codec, "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// A server-to-client variant from a client is ignored, not fatal.
	if err := codec.Write(&protocol.Message{ChunkAck: &protocol.ChunkAck{ChunkIndex: 1}}); err != nil {
		t.Fatalf("send stray variant: %v", err)
	}

	if uploadID := initUpload(t, codec, "still-works.bin", 1); uploadID == "" {
		t.Error("connection should survive a stray variant")
	}
}
