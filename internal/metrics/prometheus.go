package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid: every Record method is a no-op on it, which
// keeps tests free of global registry collisions.
type Metrics struct {
	// Streaming session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	ChunksReceived  prometheus.Counter
	AudioSeconds    prometheus.Counter

	// Inference metrics
	InferenceRequests prometheus.Counter
	InferenceFailures prometheus.Counter
	InferenceDuration prometheus.Histogram

	// Model cache metrics
	ModelLoads     prometheus.Counter
	ModelEvictions prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fws_active_sessions",
			Help: "Current number of active streaming sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_sessions_created_total",
			Help: "Total number of streaming sessions created",
		}),
		SessionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fws_sessions_closed_total",
			Help: "Total number of streaming sessions closed, by reason",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fws_session_duration_seconds",
			Help:    "Duration of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_audio_chunks_received_total",
			Help: "Total number of inbound audio chunks received",
		}),
		AudioSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_audio_seconds_total",
			Help: "Total seconds of audio received across all sessions",
		}),

		InferenceRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_inference_requests_total",
			Help: "Total number of inference requests issued",
		}),
		InferenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_inference_failures_total",
			Help: "Total number of failed inference requests",
		}),
		InferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fws_inference_duration_seconds",
			Help:    "Duration of inference requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		ModelLoads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_model_loads_total",
			Help: "Total number of model loads",
		}),
		ModelEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fws_model_evictions_total",
			Help: "Total number of model cache evictions",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fws_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fws_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fws_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the session counters
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionClosed records a closed session with its reason and duration
func (m *Metrics) RecordSessionClosed(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordChunkReceived records one inbound audio chunk
func (m *Metrics) RecordChunkReceived(audioSeconds float64) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.AudioSeconds.Add(audioSeconds)
}

// RecordInference records an inference request outcome
func (m *Metrics) RecordInference(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.InferenceRequests.Inc()
	if failed {
		m.InferenceFailures.Inc()
	}
	m.InferenceDuration.Observe(durationSeconds)
}

// RecordModelLoad increments the model load counter
func (m *Metrics) RecordModelLoad() {
	if m == nil {
		return
	}
	m.ModelLoads.Inc()
}

// RecordModelEviction increments the model eviction counter
func (m *Metrics) RecordModelEviction() {
	if m == nil {
		return
	}
	m.ModelEvictions.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
