// Package metrics exposes the Prometheus collectors of the publish pipeline
// and the recommendation read-out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomePartial    = "partial"
)

// Read-out source labels
const (
	SourceCache    = "cache"
	SourceDatabase = "database"
	SourceMiss     = "miss"
	SourceError    = "error"
)

var (
	// Pipeline Metrics
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsync_jobs_total",
			Help: "Total number of dataset jobs by final status",
		},
		[]string{"status"}, // "succeeded", "failed"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recsync_job_duration_seconds",
			Help:    "Duration of dataset jobs from generation to the last commit",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	JobAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recsync_job_attempts_total",
			Help: "Total number of job attempts including retries",
		},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recsync_jobs_running",
			Help: "Current number of dataset jobs in progress",
		},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsync_batches_total",
			Help: "Total number of published batches by outcome",
		},
		[]string{"outcome"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recsync_batch_duration_seconds",
			Help:    "Duration of one unit of work across both stores",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecordsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recsync_records_published_total",
			Help: "Total number of recommendation records committed to both stores",
		},
	)

	// Read-out Metrics
	ReadoutRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsync_readout_requests_total",
			Help: "Total number of recommendation lookups by the source that answered",
		},
		[]string{"source"},
	)

	ReadoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recsync_readout_duration_seconds",
			Help:    "Duration of recommendation lookups",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	CacheBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recsync_cache_breaker_state",
			Help: "State of the cache circuit breaker (0=closed, 1=half-open, 2=open)",
		},
	)

	// Trigger Metrics
	TriggerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsync_trigger_messages_total",
			Help: "Total number of dataset-ready messages consumed",
		},
		[]string{"result"}, // "dispatched", "invalid", "failed"
	)

	UploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recsync_uploads_total",
			Help: "Total number of accepted dataset uploads",
		},
	)
)

// RecordJob records the outcome of one dataset job
func RecordJob(status string, attempts int, duration time.Duration) {
	JobsTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(duration.Seconds())
	JobAttempts.Add(float64(attempts))
}

// RecordBatch records one unit of work
func RecordBatch(outcome string, records int, duration time.Duration) {
	BatchesTotal.WithLabelValues(outcome).Inc()
	BatchDuration.Observe(duration.Seconds())
	if outcome == OutcomeCommitted {
		RecordsPublished.Add(float64(records))
	}
}

// RecordReadout records one recommendation lookup
func RecordReadout(source string, duration time.Duration) {
	ReadoutRequests.WithLabelValues(source).Inc()
	ReadoutDuration.Observe(duration.Seconds())
}
