package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chunkferry/chunkferry/daemon/config"
	"github.com/chunkferry/chunkferry/daemon/manager"
	"github.com/chunkferry/chunkferry/daemon/transport"
	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/crypto"
	"github.com/chunkferry/chunkferry/internal/observability"
)

const version = "1.0.0"

func main() {
	cfg := config.DefaultConfig()
	flag.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on (binds 0.0.0.0)")
	flag.StringVar(&cfg.UploadsDir, "uploads-dir", cfg.UploadsDir, "Directory holding sessions and assembled files")
	flag.StringVar(&cfg.ObservAddress, "observ-addr", cfg.ObservAddress, "Observability server address (metrics, health, pprof)")
	flag.StringVar(&cfg.HistoryPath, "history-db", cfg.HistoryPath, "Transfer history database path")
	flag.StringVar(&cfg.KeyFilePath, "key-file", cfg.KeyFilePath, "Chunk encryption key file (64 hex chars); built-in key when empty")
	flag.Parse()

	logger := observability.NewLogger("ferryd", version, os.Stdout)
	metrics := observability.NewMetrics()
	health := observability.NewHealth("ferryd", version)

	if shutdown, err := observability.InitTracing(context.Background(), "ferryd", version); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("ferryd starting")

	key := crypto.DefaultKey()
	if cfg.KeyFilePath != "" {
		loaded, err := crypto.LoadKeyFile(cfg.KeyFilePath)
		if err != nil {
			logger.Fatal(err, "load key file")
		}
		key = loaded
	}

	if err := os.MkdirAll(cfg.UploadsDir, 0755); err != nil {
		logger.Fatal(err, "create uploads dir")
	}

	history, err := manager.OpenHistory(cfg.HistoryPath)
	if err != nil {
		logger.Error(err, "history store unavailable, continuing without it")
		history = nil
	} else {
		defer history.Close()
		if removed, err := history.GC(30 * 24 * time.Hour); err == nil && removed > 0 {
			logger.Info("pruned old history entries")
		}
	}

	store := manager.NewUploadStore()

	srv := &transport.Server{
		UploadsDir:  cfg.UploadsDir,
		Users:       auth.DefaultUsers(),
		Key:         key,
		Store:       store,
		History:     history,
		Metrics:     metrics,
		Logger:      logger,
		AcceptRate:  cfg.AcceptRate,
		AcceptBurst: cfg.AcceptBurst,
	}

	health.Register("listener", observability.ListenerCheck(fmt.Sprintf("127.0.0.1:%d", cfg.Port)))
	health.Register("uploads_dir", observability.UploadsDirCheck(cfg.UploadsDir))
	health.Register("history", observability.HistoryCheck(history != nil))

	go startObservabilityServer(cfg.ObservAddress, metrics, health, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Fatal(err, "listener failed")
		}
	}

	if removed := store.CleanupStale(0); removed > 0 {
		logger.Info("removed abandoned upload sessions")
	}
	logger.Info("ferryd stopped")
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.Health, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr + " (metrics, health, pprof)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}
