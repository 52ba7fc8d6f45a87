package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/chunker"
	"github.com/chunkferry/chunkferry/internal/crypto"
	"github.com/chunkferry/chunkferry/internal/observability"
	"github.com/chunkferry/chunkferry/internal/protocol"
)

const (
	// nackDelay is the pause before retransmitting a nacked chunk.
	nackDelay = 500 * time.Millisecond

	// maxRedials bounds reconnection attempts per worker after a dropped
	// connection. The in-flight chunk is re-enqueued before each redial.
	maxRedials = 3

	redialBackoff = time.Second
)

// worker owns one authenticated TCP connection and drains the shared queue.
type worker struct {
	id       int
	addr     string
	clientID string
	secret   string
	key      []byte
	filePath string
	uploadID string
	queue    *ChunkQueue
	timeout  time.Duration
	logger   *observability.Logger
	onAcked  func(chunkIndex uint64)
}

// run drains the queue. On a dead connection it re-enqueues the chunk it was
// carrying and redials; it gives up when the connection drops more than
// maxRedials times without an ack in between, or when a redial fails.
func (w *worker) run() error {
	nc, codec, err := w.connect()
	if err != nil {
		return err
	}
	defer func() {
		if nc != nil {
			nc.Close()
		}
	}()

	redials := 0
	for {
		index, ok := w.queue.Pop()
		if !ok {
			return nil
		}

		err := w.uploadChunk(codec, index)
		if err == nil {
			redials = 0
			if w.onAcked != nil {
				w.onAcked(index)
			}
			continue
		}

		if !protocol.IsDisconnect(err) {
			w.queue.Push(index)
			return err
		}

		// Connection died mid-chunk: put the chunk back, then try to
		// re-establish the connection.
		w.queue.Push(index)
		nc.Close()

		redials++
		if redials > maxRedials {
			return fmt.Errorf("worker %d: connection lost again after %d redials: %w", w.id, maxRedials, err)
		}
		time.Sleep(redialBackoff)

		nc, codec, err = w.connect()
		if err != nil {
			return err
		}
	}
}

func (w *worker) connect() (net.Conn, *protocol.Codec, error) {
	nc, err := net.Dial("tcp", w.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("worker %d: dial %s: %w", w.id, w.addr, err)
	}

	codec := protocol.NewCodec(timeoutConn{Conn: nc, timeout: w.timeout})
	sessionID, err := auth.Login(codec, w.clientID, w.secret)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("worker %d: %w", w.id, err)
	}
	w.logger.WorkerConnected(w.id, sessionID)
	return nc, codec, nil
}

// uploadChunk runs one chunk's retry loop: read, encrypt, hash, send, await
// the verdict. Nacks retry without bound; the design assumes transient
// corruption clears.
func (w *worker) uploadChunk(codec *protocol.Codec, index uint64) error {
	attempts := 0
	for {
		attempts++

		plaintext, err := chunker.ReadChunk(w.filePath, index)
		if err != nil {
			return err
		}

		ciphertext, err := crypto.EncryptChunk(plaintext, w.key)
		if err != nil {
			return err
		}

		meta := &protocol.Message{ChunkMeta: &protocol.ChunkMeta{
			UploadID:   w.uploadID,
			ChunkIndex: index,
			Size:       len(ciphertext),
			Hash:       crypto.HashHex(ciphertext),
		}}
		if err := codec.Write(meta); err != nil {
			return err
		}
		if err := codec.WritePayload(ciphertext); err != nil {
			return err
		}

		nacked, err := w.awaitVerdict(codec, index)
		if err != nil {
			return err
		}
		if !nacked {
			w.logger.ChunkUploaded(w.uploadID, index, attempts)
			return nil
		}
		time.Sleep(nackDelay)
	}
}

// awaitVerdict reads envelopes until the ack or nack for index arrives.
// Unrelated variants are ignored.
func (w *worker) awaitVerdict(codec *protocol.Codec, index uint64) (nacked bool, err error) {
	for {
		reply, err := codec.Read()
		if err != nil {
			return false, err
		}
		switch {
		case reply.ChunkAck != nil && reply.ChunkAck.ChunkIndex == index:
			return false, nil
		case reply.ChunkNack != nil && reply.ChunkNack.ChunkIndex == index:
			return true, nil
		}
	}
}

// timeoutConn applies a per-operation read deadline when a timeout is
// configured. A zero timeout leaves reads unbounded.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (tc timeoutConn) Read(p []byte) (int, error) {
	if tc.timeout > 0 {
		if err := tc.Conn.SetReadDeadline(time.Now().Add(tc.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := tc.Conn.Read(p)
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		err = fmt.Errorf("read timed out after %s: %w", tc.timeout, err)
	}
	return n, err
}
