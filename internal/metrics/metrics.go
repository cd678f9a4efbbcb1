// Package metrics provides Prometheus metrics for the vectorizer worker,
// grounded on rag-loader's internal/metrics package.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the worker exposes on /metrics.
type Metrics struct {
	RowsClaimed      *prometheus.CounterVec
	RowsSucceeded    *prometheus.CounterVec
	RowsRequeued     *prometheus.CounterVec
	RowsDeadLettered *prometheus.CounterVec
	RowsEmbedded     *prometheus.CounterVec
	BatchesProcessed *prometheus.CounterVec
	BatchErrors      *prometheus.CounterVec

	EmbedDuration prometheus.HistogramVec
	BatchDuration prometheus.HistogramVec

	QueueDepth         *prometheus.GaugeVec
	CircuitBreakerOpen *prometheus.GaugeVec
	ActiveWorkers      prometheus.Gauge
}

// New creates and registers the worker's metrics.
func New() *Metrics {
	return &Metrics{
		RowsClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_rows_claimed_total",
			Help: "Total number of queue rows claimed",
		}, []string{"vectorizer_id"}),
		RowsSucceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_rows_succeeded_total",
			Help: "Total number of rows successfully embedded and written",
		}, []string{"vectorizer_id"}),
		RowsRequeued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_rows_requeued_total",
			Help: "Total number of rows requeued after a retryable failure",
		}, []string{"vectorizer_id"}),
		RowsDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_rows_dead_lettered_total",
			Help: "Total number of rows moved to the dead letter queue",
		}, []string{"vectorizer_id"}),
		RowsEmbedded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_chunks_embedded_total",
			Help: "Total number of chunk embeddings written",
		}, []string{"vectorizer_id"}),
		BatchesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_batches_processed_total",
			Help: "Total number of Executor batches run",
		}, []string{"vectorizer_id"}),
		BatchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorizer_batch_errors_total",
			Help: "Total number of batch-level errors by kind",
		}, []string{"vectorizer_id", "kind"}),

		EmbedDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vectorizer_embed_duration_seconds",
			Help:    "Duration of a single Embed call",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		BatchDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vectorizer_batch_duration_seconds",
			Help:    "Duration of one Worker.Run drain of a vectorizer's queue",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"vectorizer_id"}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vectorizer_queue_depth",
			Help: "Approximate number of pending rows in a vectorizer's queue",
		}, []string{"vectorizer_id"}),
		CircuitBreakerOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vectorizer_circuit_breaker_open",
			Help: "Circuit breaker state per embedding provider (1 = open, 0 = closed)",
		}, []string{"provider"}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vectorizer_active_worker_goroutines",
			Help: "Number of currently running executor goroutines across all vectorizers",
		}),
	}
}

// RecordRun records one Worker.Run outcome: the aggregate over every batch
// drawn from one vectorizer's queue during a single Supervisor cycle.
func (m *Metrics) RecordRun(vectorizerID int64, batchesRun, succeeded, requeued, deadLettered, rowsEmbedded int, seconds float64) {
	id := strconv.FormatInt(vectorizerID, 10)
	m.RowsClaimed.WithLabelValues(id).Add(float64(succeeded + requeued + deadLettered))
	m.RowsSucceeded.WithLabelValues(id).Add(float64(succeeded))
	m.RowsRequeued.WithLabelValues(id).Add(float64(requeued))
	m.RowsDeadLettered.WithLabelValues(id).Add(float64(deadLettered))
	m.RowsEmbedded.WithLabelValues(id).Add(float64(rowsEmbedded))
	m.BatchesProcessed.WithLabelValues(id).Add(float64(batchesRun))
	m.BatchDuration.WithLabelValues(id).Observe(seconds)
}

// RecordBatchError records one batch-level failure by its taxonomy kind.
func (m *Metrics) RecordBatchError(vectorizerID int64, kind string) {
	m.BatchErrors.WithLabelValues(strconv.FormatInt(vectorizerID, 10), kind).Inc()
}

// SetCircuitBreakerState reports a provider's circuit breaker state.
func (m *Metrics) SetCircuitBreakerState(provider string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	m.CircuitBreakerOpen.WithLabelValues(provider).Set(value)
}

// SetQueueDepth reports a vectorizer's approximate pending row count.
func (m *Metrics) SetQueueDepth(vectorizerID int64, depth int64) {
	m.QueueDepth.WithLabelValues(strconv.FormatInt(vectorizerID, 10)).Set(float64(depth))
}
