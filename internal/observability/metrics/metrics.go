// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crm_calls"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	CallDuration    prometheus.Histogram

	// Observation metrics
	StatusPolls   *prometheus.CounterVec
	FeedFallbacks prometheus.Counter
	LiveMessages  *prometheus.CounterVec

	// Transcript metrics
	TranscriptEntries *prometheus.CounterVec

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
	ControlFailures *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal  *prometheus.CounterVec
	KafkaPublishErrors *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of call sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_in_registry",
			Help:      "Number of call sessions currently held by the registry",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of call sessions that reached ENDED",
		}, []string{"reason"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Call session state transitions",
		}, []string{"from", "to"}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Counted (non-hold) duration of calls that reached ACTIVE",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		StatusPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status poll outcomes",
		}, []string{"result"}),
		FeedFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fallbacks_total",
			Help:      "Sessions that switched to the synthetic transcript feed",
		}),
		LiveMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_messages_total",
			Help:      "Messages received on live event feeds",
		}, []string{"kind"}),

		TranscriptEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries appended",
		}, []string{"source"}),

		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Call-control provider request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),
		ControlFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_failures_total",
			Help:      "Failed best-effort control notifications",
		}, []string{"op"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests",
		}, []string{"route", "code"}),
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStarted records a new call session.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionRemoved records a session leaving the registry.
func (m *Metrics) RecordSessionRemoved() {
	m.SessionsActive.Dec()
}

// RecordSessionEnded records a session reaching ENDED.
func (m *Metrics) RecordSessionEnded(reason string, durationSeconds int, wasActive bool) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
	if wasActive {
		m.CallDuration.Observe(float64(durationSeconds))
	}
}

// RecordTransition records a state transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordStatusPoll records a poll result: ok, terminal or error.
func (m *Metrics) RecordStatusPoll(result string) {
	m.StatusPolls.WithLabelValues(result).Inc()
}

// RecordFeedFallback records a switch to synthetic mode.
func (m *Metrics) RecordFeedFallback() {
	m.FeedFallbacks.Inc()
}

// RecordLiveMessage records a message received on a live feed.
func (m *Metrics) RecordLiveMessage(kind string) {
	m.LiveMessages.WithLabelValues(kind).Inc()
}

// RecordTranscriptEntry records an appended transcript entry.
func (m *Metrics) RecordTranscriptEntry(source string) {
	m.TranscriptEntries.WithLabelValues(source).Inc()
}

// RecordProviderCall records a provider request latency.
func (m *Metrics) RecordProviderCall(op string, latencySeconds float64) {
	m.ProviderLatency.WithLabelValues(op).Observe(latencySeconds)
}

// RecordControlFailure records a failed end-call or mode-change notification.
func (m *Metrics) RecordControlFailure(op string) {
	m.ControlFailures.WithLabelValues(op).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records an API request by route pattern and status code.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}

// RecordGRPCRequest records a gRPC request by method and status code.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
