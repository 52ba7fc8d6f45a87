package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionsActive  prometheus.Gauge
	ConnectionDuration prometheus.Histogram

	// Auth metrics
	LoginsTotal *prometheus.CounterVec

	// Upload metrics
	UploadsInitialized  prometheus.Counter
	UploadsMerged       *prometheus.CounterVec
	MergeDuration       prometheus.Histogram
	ChunksReceivedTotal prometheus.Counter
	ChunksNackedTotal   *prometheus.CounterVec
	BytesReceivedTotal  prometheus.Counter
	PolicyRejections    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkferry_connections_total",
				Help: "Accepted TCP connections",
			},
			[]string{"result"},
		),

		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chunkferry_connections_active",
				Help: "Currently open connections",
			},
		),

		ConnectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chunkferry_connection_duration_seconds",
				Help:    "Connection lifetime distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		LoginsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkferry_logins_total",
				Help: "Challenge-response login attempts",
			},
			[]string{"result"},
		),

		UploadsInitialized: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chunkferry_uploads_initialized_total",
				Help: "Upload sessions created",
			},
		),

		UploadsMerged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkferry_uploads_merged_total",
				Help: "Merge operations by outcome",
			},
			[]string{"result"},
		),

		MergeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chunkferry_merge_duration_seconds",
				Help:    "Merge completion time distribution",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		ChunksReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chunkferry_chunks_received_total",
				Help: "Chunks verified, decrypted and persisted",
			},
		),

		ChunksNackedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkferry_chunks_nacked_total",
				Help: "Chunks rejected, by reason",
			},
			[]string{"reason"},
		),

		BytesReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chunkferry_bytes_received_total",
				Help: "Plaintext bytes persisted",
			},
		),

		PolicyRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chunkferry_policy_rejections_total",
				Help: "Uploads rejected by filename policy",
			},
		),
	}

	return m
}

// RecordConnection logs a connection attempt outcome.
func (m *Metrics) RecordConnection(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "failed"
	}
	m.ConnectionsTotal.WithLabelValues(result).Inc()
	if accepted {
		m.ConnectionsActive.Inc()
	}
}

// RecordConnectionClose updates metrics for a finished connection.
func (m *Metrics) RecordConnectionClose(durationSeconds float64) {
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordChunkReceived updates metrics for a persisted chunk.
func (m *Metrics) RecordChunkReceived(plaintextBytes int) {
	m.ChunksReceivedTotal.Inc()
	m.BytesReceivedTotal.Add(float64(plaintextBytes))
}

// RecordChunkNack counts a rejected chunk.
func (m *Metrics) RecordChunkNack(reason string) {
	m.ChunksNackedTotal.WithLabelValues(reason).Inc()
}

// RecordMerge records a merge outcome and its duration.
func (m *Metrics) RecordMerge(success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.UploadsMerged.WithLabelValues(result).Inc()
	if success {
		m.MergeDuration.Observe(durationSeconds)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
