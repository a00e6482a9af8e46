package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ASR core service
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// VAD metrics
	VADWindowsProcessed prometheus.Counter
	VADSpeechDetected   prometheus.Counter
	VADProcessingTime   prometheus.Histogram

	// Wakeword metrics
	WakewordChunksProcessed prometheus.Counter
	WakewordTriggers        prometheus.Counter
	WakewordScore           prometheus.Histogram
	WakewordProcessingTime  prometheus.Histogram

	// Inference metrics
	InferenceErrors *prometheus.CounterVec

	// Notification metrics
	NotifyEvents   *prometheus.CounterVec
	NotifyFailures prometheus.Counter
	NotifyDuration prometheus.Histogram
	NotifyRetries  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// UDP packet metrics
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "asr_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "asr_active_sessions",
			Help: "Current number of active detection sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_session_duration_seconds",
			Help:    "Duration of detection sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// VAD metrics
		VADWindowsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADSpeechDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_vad_speech_detected_total",
			Help: "Total number of VAD windows with speech detected",
		}),
		VADProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_vad_processing_duration_seconds",
			Help:    "Time spent processing VAD windows",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		// Wakeword metrics
		WakewordChunksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_wakeword_chunks_processed_total",
			Help: "Total number of wakeword chunks processed",
		}),
		WakewordTriggers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_wakeword_triggers_total",
			Help: "Total number of wakeword detections",
		}),
		WakewordScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_wakeword_score",
			Help:    "Classifier score of scored wakeword chunks",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		WakewordProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_wakeword_processing_duration_seconds",
			Help:    "Time spent processing wakeword chunks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		// Inference metrics
		InferenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_inference_errors_total",
			Help: "Total number of model inference errors",
		}, []string{"model"}),

		// Notification metrics
		NotifyEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_notify_events_total",
			Help: "Total number of detection events emitted",
		}, []string{"type"}),
		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_notify_failures_total",
			Help: "Total number of failed event deliveries",
		}),
		NotifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_notify_duration_seconds",
			Help:    "Duration of event deliveries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),
		NotifyRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_notify_retries_total",
			Help: "Total number of event delivery retries",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordVADWindow increments VAD windows processed and optionally speech detected
func (m *Metrics) RecordVADWindow(hasSpeech bool, processingTimeSeconds float64) {
	m.VADWindowsProcessed.Inc()
	if hasSpeech {
		m.VADSpeechDetected.Inc()
	}
	m.VADProcessingTime.Observe(processingTimeSeconds)
}

// RecordWakewordChunk records one processed wakeword chunk
func (m *Metrics) RecordWakewordChunk(score float64, scored bool, processingTimeSeconds float64) {
	m.WakewordChunksProcessed.Inc()
	if scored {
		m.WakewordScore.Observe(score)
	}
	m.WakewordProcessingTime.Observe(processingTimeSeconds)
}

// RecordWakewordTrigger increments the wakeword trigger counter
func (m *Metrics) RecordWakewordTrigger() {
	m.WakewordTriggers.Inc()
}

// RecordInferenceError increments the inference error counter for a model
func (m *Metrics) RecordInferenceError(model string) {
	m.InferenceErrors.WithLabelValues(model).Inc()
}

// RecordNotifyEvent records an emitted detection event
func (m *Metrics) RecordNotifyEvent(eventType string) {
	m.NotifyEvents.WithLabelValues(eventType).Inc()
}

// RecordNotifySuccess records a successful event delivery
func (m *Metrics) RecordNotifySuccess(durationSeconds float64) {
	m.NotifyDuration.Observe(durationSeconds)
}

// RecordNotifyFailure records a failed event delivery
func (m *Metrics) RecordNotifyFailure(durationSeconds float64) {
	m.NotifyFailures.Inc()
	m.NotifyDuration.Observe(durationSeconds)
}

// RecordNotifyRetry increments the delivery retry counter
func (m *Metrics) RecordNotifyRetry() {
	m.NotifyRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
