// Package client implements the upload session coordinator and the parallel
// worker pool that streams one local file to a ferryd server.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/chunker"
	"github.com/chunkferry/chunkferry/internal/observability"
	"github.com/chunkferry/chunkferry/internal/protocol"
)

// ErrRejected wraps a server-side ErrorMessage that aborted the upload.
var ErrRejected = errors.New("upload rejected by server")

// Options configures one upload run.
type Options struct {
	FilePath  string
	Host      string
	Port      int
	Workers   int
	ClientID  string
	Secret    string
	Key       []byte
	IOTimeout time.Duration
	Quiet     bool
	Logger    *observability.Logger
}

// Upload streams the file at opts.FilePath to the server: an init exchange
// on a setup connection, N worker connections draining the chunk queue, and
// a Complete on a final connection once every chunk is acknowledged.
func Upload(opts Options) error {
	info, err := os.Stat(opts.FilePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", opts.FilePath, err)
	}
	fileName := filepath.Base(opts.FilePath)
	totalChunks := chunker.Count(info.Size())
	addr := net.JoinHostPort(opts.Host, fmt.Sprint(opts.Port))
	log := opts.Logger

	start := time.Now()

	uploadID, err := initUpload(addr, opts, fileName, uint64(info.Size()))
	if err != nil {
		return err
	}
	log.UploadInitialized(uploadID, fileName, uint64(info.Size()))

	queue := NewChunkQueue(totalChunks)
	bar := newProgressBar(totalChunks, fileName, opts.Quiet)

	var wg sync.WaitGroup
	errs := make(chan error, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		w := &worker{
			id:       i,
			addr:     addr,
			clientID: opts.ClientID,
			secret:   opts.Secret,
			key:      opts.Key,
			filePath: opts.FilePath,
			uploadID: uploadID,
			queue:    queue,
			timeout:  opts.IOTimeout,
			logger:   log,
			onAcked: func(uint64) {
				if bar != nil {
					_ = bar.Add(1)
				}
			},
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	if remaining := queue.Len(); remaining > 0 {
		if err := <-errs; err != nil {
			return fmt.Errorf("%d chunks unsent: %w", remaining, err)
		}
		return fmt.Errorf("%d chunks unsent", remaining)
	}
	if err := <-errs; err != nil {
		// Queue drained but a worker failed after its last ack; the
		// transfer itself is complete.
		log.Error(err, "worker error after queue drained")
	}

	if err := sendComplete(addr, opts, uploadID, fileName, totalChunks); err != nil {
		return err
	}

	log.UploadCompleted(uploadID, fileName, totalChunks, time.Since(start))
	return nil
}

// initUpload performs the setup-connection exchange and returns the
// server-issued upload id.
func initUpload(addr string, opts Options, fileName string, totalSize uint64) (string, error) {
	codec, closeConn, err := dialAndLogin(addr, opts)
	if err != nil {
		return "", err
	}
	defer closeConn()

	err = codec.Write(&protocol.Message{
		InitUpload: &protocol.InitUpload{FileName: fileName, TotalSize: totalSize},
	})
	if err != nil {
		return "", fmt.Errorf("send init: %w", err)
	}

	reply, err := codec.Read()
	if err != nil {
		return "", fmt.Errorf("await init ack: %w", err)
	}
	if reply.ErrorMessage != nil {
		return "", fmt.Errorf("%w: %s", ErrRejected, reply.ErrorMessage.Text)
	}
	if reply.InitAck == nil {
		return "", fmt.Errorf("unexpected reply %s, want InitAck", reply.Variant())
	}
	return reply.InitAck.UploadID, nil
}

// sendComplete triggers the server-side merge on a dedicated connection.
func sendComplete(addr string, opts Options, uploadID, fileName string, totalChunks uint64) error {
	codec, closeConn, err := dialAndLogin(addr, opts)
	if err != nil {
		return err
	}
	defer closeConn()

	err = codec.Write(&protocol.Message{
		Complete: &protocol.Complete{
			UploadID:    uploadID,
			FileName:    fileName,
			TotalChunks: totalChunks,
		},
	})
	if err != nil {
		return fmt.Errorf("send complete: %w", err)
	}
	return nil
}

func dialAndLogin(addr string, opts Options) (*protocol.Codec, func(), error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	codec := protocol.NewCodec(timeoutConn{Conn: nc, timeout: opts.IOTimeout})
	if _, err := auth.Login(codec, opts.ClientID, opts.Secret); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return codec, func() { nc.Close() }, nil
}

func newProgressBar(totalChunks uint64, fileName string, quiet bool) *progressbar.ProgressBar {
	if quiet || totalChunks == 0 {
		return nil
	}
	return progressbar.NewOptions64(int64(totalChunks),
		progressbar.OptionSetDescription("uploading "+fileName),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
