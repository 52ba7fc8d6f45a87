package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chunkferry/chunkferry/daemon/manager"
	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/chunker"
	"github.com/chunkferry/chunkferry/internal/crypto"
	"github.com/chunkferry/chunkferry/internal/observability"
	"github.com/chunkferry/chunkferry/internal/protocol"
	"github.com/chunkferry/chunkferry/internal/validation"
)

// PolicyViolationText is sent when a declared file name fails the suffix
// policy. The connection stays open afterwards.
const PolicyViolationText = "Security Policy Violation: executable uploads are not allowed"

// maxChunkPayload bounds the ciphertext a single ChunkMeta may announce:
// one full chunk plus the AEAD nonce and tag.
const maxChunkPayload = int(chunker.ChunkSize) + crypto.Overhead

// conn is the per-connection handler state. A connection that has not
// authenticated may only progress the login exchange; anything else
// terminates it without a reply.
type conn struct {
	srv   *Server
	codec *protocol.Codec

	clientID    string
	currentSalt string
	authed      bool
}

// HandleConn runs the receive loop for one accepted connection until EOF or
// a terminal error. Safe to invoke on any net.Conn, including pipes in tests.
func (s *Server) HandleConn(nc net.Conn) {
	start := time.Now()
	remote := nc.RemoteAddr().String()
	log := s.Logger.WithRemote(remote)
	log.ConnectionEstablished(remote)

	c := &conn{srv: s, codec: protocol.NewCodec(nc)}
	defer func() {
		nc.Close()
		log.ConnectionClosed(remote, time.Since(start))
		if s.Metrics != nil {
			s.Metrics.RecordConnectionClose(time.Since(start).Seconds())
		}
	}()

	for {
		msg, err := c.codec.Read()
		if err != nil {
			if !protocol.IsDisconnect(err) {
				log.Error(err, "receive failed, dropping connection")
			}
			return
		}

		if !c.authed {
			if !c.handleLogin(msg) {
				return
			}
			continue
		}

		switch {
		case msg.InitUpload != nil:
			if err := c.handleInitUpload(msg.InitUpload); err != nil {
				log.Error(err, "init upload failed")
				return
			}
		case msg.ChunkMeta != nil:
			if err := c.handleChunkMeta(msg.ChunkMeta); err != nil {
				if !protocol.IsDisconnect(err) {
					log.Error(err, "chunk receipt failed")
				}
				return
			}
		case msg.Complete != nil:
			if err := c.handleComplete(msg.Complete); err != nil {
				log.Error(err, "merge failed, refusing further operations")
				return
			}
		default:
			// Authenticated connections tolerate stray variants.
		}
	}
}

// handleLogin advances the challenge-response exchange. It returns false
// when the connection must terminate.
func (c *conn) handleLogin(msg *protocol.Message) bool {
	s := c.srv
	switch {
	case msg.LoginRequest != nil && c.currentSalt == "":
		c.clientID = msg.LoginRequest.ClientID
		c.currentSalt = auth.NewSalt()
		err := c.codec.Write(&protocol.Message{
			LoginChallenge: &protocol.LoginChallenge{Salt: c.currentSalt},
		})
		return err == nil

	case msg.LoginAnswer != nil && c.currentSalt != "":
		password, known := s.Users.Lookup(c.clientID)
		if known && msg.LoginAnswer.Hash == auth.Digest(password, c.currentSalt) {
			c.authed = true
			sessionID := uuid.NewString()
			s.Logger.LoginSucceeded(c.clientID, sessionID)
			if s.Metrics != nil {
				s.Metrics.RecordLogin(true)
			}
			err := c.codec.Write(&protocol.Message{
				Welcome: &protocol.Welcome{SessionID: sessionID},
			})
			return err == nil
		}
		s.Logger.LoginFailed(c.clientID)
		if s.Metrics != nil {
			s.Metrics.RecordLogin(false)
		}
		_ = c.codec.Write(&protocol.Message{
			ErrorMessage: &protocol.ErrorMessage{Text: auth.AccessDeniedText},
		})
		return false

	default:
		// Anything outside the login sequence on an unauthenticated
		// connection severs it silently.
		return false
	}
}

// handleInitUpload creates a fresh session. A policy violation is answered
// with ErrorMessage and is non-fatal for the connection.
func (c *conn) handleInitUpload(init *protocol.InitUpload) error {
	s := c.srv

	if err := validation.ValidateUploadName(init.FileName); err != nil {
		s.Logger.UploadRejected(init.FileName, err.Error())
		if s.Metrics != nil {
			s.Metrics.PolicyRejections.Inc()
		}
		return c.codec.Write(&protocol.Message{
			ErrorMessage: &protocol.ErrorMessage{Text: PolicyViolationText},
		})
	}

	uploadID := uuid.NewString()
	tempDir := filepath.Join(s.UploadsDir, uploadID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	upload := manager.NewUpload(uploadID, init.FileName, tempDir, init.TotalSize)
	if err := s.Store.Add(upload); err != nil {
		return fmt.Errorf("register upload: %w", err)
	}

	s.Logger.UploadInitialized(uploadID, init.FileName, init.TotalSize)
	if s.Metrics != nil {
		s.Metrics.UploadsInitialized.Inc()
	}

	return c.codec.Write(&protocol.Message{
		InitAck: &protocol.InitAck{ChunkSize: 0, UploadID: uploadID},
	})
}

// handleChunkMeta reads the announced ciphertext, verifies and decrypts it,
// and answers ChunkAck or ChunkNack. Nothing touches disk on a nack.
func (c *conn) handleChunkMeta(meta *protocol.ChunkMeta) error {
	s := c.srv

	if meta.Size < 0 || meta.Size > maxChunkPayload {
		return fmt.Errorf("chunk %d announces impossible payload size %d", meta.ChunkIndex, meta.Size)
	}

	ciphertext, err := c.codec.ReadPayload(meta.Size)
	if err != nil {
		return err
	}

	if crypto.HashHex(ciphertext) != meta.Hash {
		return c.nack(meta, "hash_mismatch")
	}

	plaintext, err := crypto.DecryptChunk(ciphertext, s.Key)
	if err != nil {
		return c.nack(meta, "decrypt_failed")
	}

	upload, err := s.Store.Get(meta.UploadID)
	if err != nil {
		return c.nack(meta, "unknown_upload")
	}

	if err := writeChunkFile(upload.ChunkPath(meta.ChunkIndex), plaintext); err != nil {
		return fmt.Errorf("persist chunk %d: %w", meta.ChunkIndex, err)
	}

	upload.RecordChunk(len(plaintext))
	s.Logger.ChunkReceived(meta.UploadID, meta.ChunkIndex, len(plaintext))
	if s.Metrics != nil {
		s.Metrics.RecordChunkReceived(len(plaintext))
	}

	return c.codec.Write(&protocol.Message{
		ChunkAck: &protocol.ChunkAck{ChunkIndex: meta.ChunkIndex},
	})
}

func (c *conn) nack(meta *protocol.ChunkMeta, reason string) error {
	c.srv.Logger.ChunkRejected(meta.UploadID, meta.ChunkIndex, reason)
	if c.srv.Metrics != nil {
		c.srv.Metrics.RecordChunkNack(reason)
	}
	return c.codec.Write(&protocol.Message{
		ChunkNack: &protocol.ChunkNack{ChunkIndex: meta.ChunkIndex},
	})
}

// handleComplete assembles the final file from chunk_0..chunk_{n-1} in
// ascending order and removes the session. The protocol defines no response;
// a missing chunk is a local fatal error for this operation.
func (c *conn) handleComplete(complete *protocol.Complete) error {
	s := c.srv
	start := time.Now()

	_, span := observability.StartSpan(context.Background(), "merge",
		attribute.String("upload_id", complete.UploadID),
		attribute.Int64("total_chunks", int64(complete.TotalChunks)),
	)
	defer span.End()

	upload, err := s.Store.Get(complete.UploadID)
	if err != nil {
		return fmt.Errorf("complete %s: %w", complete.UploadID, err)
	}

	outPath := filepath.Join(s.UploadsDir, filepath.Base(complete.FileName))
	size, digest, err := mergeChunks(outPath, upload, complete.TotalChunks)
	if s.Metrics != nil {
		s.Metrics.RecordMerge(err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := os.RemoveAll(upload.TempDir); err != nil {
		s.Logger.Error(err, "remove temp dir")
	}
	_ = s.Store.Delete(complete.UploadID)

	s.Logger.UploadMerged(complete.UploadID, complete.FileName, complete.TotalChunks, digest, time.Since(start))

	if s.History != nil {
		entry := manager.HistoryEntry{
			UploadID:    complete.UploadID,
			FileName:    complete.FileName,
			SizeBytes:   size,
			TotalChunks: complete.TotalChunks,
			Digest:      digest,
			Duration:    time.Since(start).Seconds(),
			CompletedAt: time.Now(),
		}
		if err := s.History.Record(entry); err != nil {
			s.Logger.Error(err, "record history entry")
		}
	}
	return nil
}

// mergeChunks stream-copies every chunk file into outPath and returns the
// assembled size and its BLAKE3 digest.
func mergeChunks(outPath string, upload *manager.Upload, totalChunks uint64) (uint64, string, error) {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", fmt.Errorf("open output: %w", err)
	}
	defer out.Close()

	hasher := blake3.New()
	sink := io.MultiWriter(out, hasher)

	var size uint64
	for i := uint64(0); i < totalChunks; i++ {
		chunk, err := os.Open(upload.ChunkPath(i))
		if err != nil {
			return 0, "", fmt.Errorf("missing chunk %d: %w", i, err)
		}
		n, err := io.Copy(sink, chunk)
		chunk.Close()
		if err != nil {
			return 0, "", fmt.Errorf("copy chunk %d: %w", i, err)
		}
		size += uint64(n)
	}

	if err := out.Sync(); err != nil {
		return 0, "", fmt.Errorf("sync output: %w", err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func writeChunkFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
