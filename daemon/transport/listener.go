// Package transport implements the TCP side of the upload protocol: the
// listener, the per-connection handler state machine, and the merge step.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/chunkferry/chunkferry/daemon/manager"
	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/observability"
	"github.com/chunkferry/chunkferry/internal/ratelimit"
)

// Server owns everything a connection handler needs. Handlers share no
// mutable state with each other beyond the session store and the filesystem.
type Server struct {
	UploadsDir string
	Users      auth.Credentials
	Key        []byte
	Store      *manager.UploadStore
	History    *manager.History       // optional
	Metrics    *observability.Metrics // optional
	Logger     *observability.Logger

	// Accept pacing; zero values disable the limiter.
	AcceptRate  float64
	AcceptBurst int
}

// ListenAndServe binds 0.0.0.0:port and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", port, err)
	}
	s.Logger.Info("listening on " + l.Addr().String())
	return s.Serve(ctx, l)
}

// Serve accepts in a loop, spawning one concurrent handler per connection.
// It returns when ctx is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var bucket *ratelimit.TokenBucket
	if s.AcceptRate > 0 && s.AcceptBurst > 0 {
		bucket = ratelimit.NewTokenBucket(s.AcceptRate, s.AcceptBurst)
	}

	for {
		if bucket != nil {
			bucket.Wait(1)
		}

		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			s.Logger.Error(err, "accept failed")
			if s.Metrics != nil {
				s.Metrics.RecordConnection(false)
			}
			continue
		}

		if s.Metrics != nil {
			s.Metrics.RecordConnection(true)
		}
		go s.HandleConn(nc)
	}
}
