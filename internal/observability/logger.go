package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithUpload adds upload_id context to logger.
func (l *Logger) WithUpload(uploadID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("upload_id", uploadID).Logger(),
	}
}

// WithRemote adds remote_addr context to logger.
func (l *Logger) WithRemote(remoteAddr string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("remote_addr", remoteAddr).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// ConnectionEstablished logs an accepted connection.
func (l *Logger) ConnectionEstablished(remoteAddr string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Msg("connection established")
}

// ConnectionClosed logs the end of a connection.
func (l *Logger) ConnectionClosed(remoteAddr string, duration time.Duration) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Float64("duration_seconds", duration.Seconds()).
		Msg("connection closed")
}

// LoginSucceeded logs a passed challenge-response exchange.
func (l *Logger) LoginSucceeded(clientID, sessionID string) {
	l.logger.Info().
		Str("client_id", clientID).
		Str("session_id", sessionID).
		Msg("login succeeded")
}

// LoginFailed logs a rejected challenge answer.
func (l *Logger) LoginFailed(clientID string) {
	l.logger.Warn().
		Str("client_id", clientID).
		Msg("login failed: wrong password")
}

// UploadInitialized logs session creation.
func (l *Logger) UploadInitialized(uploadID, fileName string, totalSize uint64) {
	l.logger.Info().
		Str("upload_id", uploadID).
		Str("file_name", fileName).
		Uint64("total_size", totalSize).
		Msg("upload session initialized")
}

// UploadRejected logs a policy rejection of a declared file name.
func (l *Logger) UploadRejected(fileName, reason string) {
	l.logger.Warn().
		Str("file_name", fileName).
		Str("reason", reason).
		Msg("upload rejected by policy")
}

// ChunkReceived logs a persisted chunk.
func (l *Logger) ChunkReceived(uploadID string, chunkIndex uint64, size int) {
	l.logger.Debug().
		Str("upload_id", uploadID).
		Uint64("chunk_index", chunkIndex).
		Int("size", size).
		Msg("chunk persisted")
}

// ChunkRejected logs a nacked chunk.
func (l *Logger) ChunkRejected(uploadID string, chunkIndex uint64, reason string) {
	l.logger.Warn().
		Str("upload_id", uploadID).
		Uint64("chunk_index", chunkIndex).
		Str("reason", reason).
		Msg("chunk rejected")
}

// UploadMerged logs merge completion.
func (l *Logger) UploadMerged(uploadID, fileName string, totalChunks uint64, digest string, duration time.Duration) {
	l.logger.Info().
		Str("upload_id", uploadID).
		Str("file_name", fileName).
		Uint64("total_chunks", totalChunks).
		Str("digest", digest).
		Float64("duration_seconds", duration.Seconds()).
		Msg("upload merged")
}

// WorkerConnected logs a client worker joining the pool.
func (l *Logger) WorkerConnected(workerID int, sessionID string) {
	l.logger.Debug().
		Int("worker_id", workerID).
		Str("session_id", sessionID).
		Msg("worker authenticated")
}

// ChunkUploaded logs a client-side acked chunk.
func (l *Logger) ChunkUploaded(uploadID string, chunkIndex uint64, attempts int) {
	l.logger.Debug().
		Str("upload_id", uploadID).
		Uint64("chunk_index", chunkIndex).
		Int("attempts", attempts).
		Msg("chunk acknowledged")
}

// UploadCompleted logs client-side completion of the whole transfer.
func (l *Logger) UploadCompleted(uploadID, fileName string, totalChunks uint64, duration time.Duration) {
	l.logger.Info().
		Str("upload_id", uploadID).
		Str("file_name", fileName).
		Uint64("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Msg("upload completed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
