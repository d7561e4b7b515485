// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meetscribe"

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsFailed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	FramesSent    prometheus.Counter
	FramesDropped *prometheus.CounterVec

	// Transcript metrics
	Turns            *prometheus.CounterVec
	TranscriptWrites *prometheus.CounterVec

	// Lifecycle and workflow metrics
	StatusTransitions *prometheus.CounterVec
	WorkflowAttempts  *prometheus.CounterVec
	WorkflowOutcomes  *prometheus.CounterVec
	WorkflowDuration  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions that reached the active state",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active recording sessions",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions aborted by an error",
		}, []string{"stage"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of finished recording sessions in seconds",
			Buckets:   []float64{5, 30, 60, 300, 600, 1200, 1800, 3600},
		}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames handed to the streaming transport",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped before reaching the wire",
		}, []string{"reason"}),

		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turn events received",
		}, []string{"kind"}),
		TranscriptWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_writes_total",
			Help:      "Total number of live transcript persistence writes",
		}, []string{"result"}),

		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_status_transitions_total",
			Help:      "Total number of accepted recording status transitions",
		}, []string{"to"}),
		WorkflowAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_attempts_total",
			Help:      "Total number of workflow step attempts",
		}, []string{"step", "result"}),
		WorkflowOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_outcomes_total",
			Help:      "Total number of insight workflows by terminal status",
		}, []string{"status"}),
		WorkflowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Duration of insight workflows in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a session reaching the active state.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records an active session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailed records a session aborted at the given stage.
func (m *Metrics) RecordSessionFailed(stage string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(stage).Inc()
}

// RecordFrameSent records a frame accepted by the transport.
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// RecordFrameDropped records a frame that never reached the transport queue.
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordTurn records a partial or final turn.
func (m *Metrics) RecordTurn(final bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if final {
		kind = "final"
	}
	m.Turns.WithLabelValues(kind).Inc()
}

// RecordTranscriptWrite records a live transcript persistence attempt.
func (m *Metrics) RecordTranscriptWrite(err error) {
	if m == nil {
		return
	}
	m.TranscriptWrites.WithLabelValues(result(err)).Inc()
}

// RecordStatusTransition records an accepted recording status change.
func (m *Metrics) RecordStatusTransition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(to).Inc()
}

// RecordWorkflowAttempt records one attempt of a workflow step.
func (m *Metrics) RecordWorkflowAttempt(step string, err error) {
	if m == nil {
		return
	}
	m.WorkflowAttempts.WithLabelValues(step, result(err)).Inc()
}

// RecordWorkflowOutcome records a workflow reaching a terminal status.
func (m *Metrics) RecordWorkflowOutcome(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.WorkflowOutcomes.WithLabelValues(status).Inc()
	m.WorkflowDuration.Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
