package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the coaching engine. Every
// method is safe on a nil *Metrics so library code can run without them.
type Metrics struct {
	// Cache metrics
	CacheLookups       *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	CacheBackendErrors *prometheus.CounterVec

	// Prediction metrics
	Predictions        *prometheus.CounterVec
	PredictionFallback *prometheus.CounterVec
	PredictionLatency  prometheus.Histogram

	// Decision and message metrics
	DecisionOutcomes *prometheus.CounterVec
	MessagesByStatus *prometheus.CounterVec
	DeliveryAttempts *prometheus.CounterVec

	// Scheduler metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Health gauges
	QueueDepth    prometheus.Gauge
	StuckMessages prometheus.Gauge
	ActiveModel   *prometheus.GaugeVec

	// Training metrics
	TrainingRuns *prometheus.CounterVec

	// Events
	EventsPublished *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics once per process
// and returns the shared instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			CacheLookups: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_cache_lookups_total",
					Help: "Prediction cache lookups by tier and result",
				},
				[]string{"tier", "result"},
			),
			CacheInvalidations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_cache_invalidations_total",
					Help: "Prediction cache invalidations by reason",
				},
				[]string{"reason"},
			),
			CacheBackendErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_cache_backend_errors_total",
					Help: "Persistent cache tier errors treated as misses",
				},
				[]string{"tier", "op"},
			),
			Predictions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_predictions_total",
					Help: "Predictions computed by type and source",
				},
				[]string{"type", "source"},
			),
			PredictionFallback: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_prediction_fallbacks_total",
					Help: "Predictions served from heuristics by reason",
				},
				[]string{"reason"},
			),
			PredictionLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "coach_prediction_compute_seconds",
					Help:    "Time to compute a user's prediction set",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to 2s
				},
			),
			DecisionOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_decision_outcomes_total",
					Help: "Decision engine final states",
				},
				[]string{"state", "reason"},
			),
			MessagesByStatus: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_message_transitions_total",
					Help: "Coaching message status transitions",
				},
				[]string{"category", "status"},
			),
			DeliveryAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_delivery_attempts_total",
					Help: "Push gateway delivery attempts by result",
				},
				[]string{"result"},
			),
			JobRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_job_runs_total",
					Help: "Scheduled job runs by job and result",
				},
				[]string{"job", "result"},
			),
			JobDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "coach_job_duration_seconds",
					Help:    "Scheduled job run duration",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
				},
				[]string{"job"},
			),
			QueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "coach_scheduled_queue_depth",
					Help: "Messages waiting in scheduled state",
				},
			),
			StuckMessages: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "coach_stuck_messages",
					Help: "Scheduled messages past the stuck grace period",
				},
			),
			ActiveModel: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "coach_active_model_version",
					Help: "Active artifact version per model type (0 when degraded)",
				},
				[]string{"model_type"},
			),
			TrainingRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_training_runs_total",
					Help: "Training runs by model type and outcome",
				},
				[]string{"model_type", "outcome"},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_events_published_total",
					Help: "Events published to the bus",
				},
				[]string{"subject", "result"},
			),
		}
	})
	return sharedMetrics
}

// CacheLookup records a lookup result ("hit", "miss", "stale") on a tier.
func (m *Metrics) CacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// CacheInvalidated records an invalidation.
func (m *Metrics) CacheInvalidated(reason string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(reason).Inc()
}

// CacheBackendError records a persistent tier failure.
func (m *Metrics) CacheBackendError(tier, op string) {
	if m == nil {
		return
	}
	m.CacheBackendErrors.WithLabelValues(tier, op).Inc()
}

// Prediction records a computed prediction.
func (m *Metrics) Prediction(predType, source string) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(predType, source).Inc()
}

// Fallback records a heuristic fallback.
func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.PredictionFallback.WithLabelValues(reason).Inc()
}

// ObservePrediction records compute latency.
func (m *Metrics) ObservePrediction(d time.Duration) {
	if m == nil {
		return
	}
	m.PredictionLatency.Observe(d.Seconds())
}

// Decision records a decision engine outcome.
func (m *Metrics) Decision(state, reason string) {
	if m == nil {
		return
	}
	m.DecisionOutcomes.WithLabelValues(state, reason).Inc()
}

// MessageTransition records a status change.
func (m *Metrics) MessageTransition(category, status string) {
	if m == nil {
		return
	}
	m.MessagesByStatus.WithLabelValues(category, status).Inc()
}

// DeliveryAttempt records one push attempt.
func (m *Metrics) DeliveryAttempt(result string) {
	if m == nil {
		return
	}
	m.DeliveryAttempts.WithLabelValues(result).Inc()
}

// JobRun records a scheduler run.
func (m *Metrics) JobRun(job, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// QueueHealth sets the health gauges.
func (m *Metrics) QueueHealth(depth, stuck int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.StuckMessages.Set(float64(stuck))
}

// ModelVersion sets the active version gauge.
func (m *Metrics) ModelVersion(modelType string, version int64) {
	if m == nil {
		return
	}
	m.ActiveModel.WithLabelValues(modelType).Set(float64(version))
}

// TrainingRun records a training outcome ("published", "rejected", "failed", "skipped").
func (m *Metrics) TrainingRun(modelType, outcome string) {
	if m == nil {
		return
	}
	m.TrainingRuns.WithLabelValues(modelType, outcome).Inc()
}

// EventPublished records a publish attempt.
func (m *Metrics) EventPublished(subject, result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(subject, result).Inc()
}
