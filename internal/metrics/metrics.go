// Package metrics exposes Prometheus instrumentation for feed tasks and entity sync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric
const Namespace = "catalogfeed"

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	// Feed task metrics
	TasksTotal    *prometheus.CounterVec
	TaskDuration  prometheus.Histogram
	FeedRows      prometheus.Counter
	UploadedBytes prometheus.Counter

	// Ledger and sync metrics
	LedgerInserts    *prometheus.CounterVec
	DispatchesTotal  *prometheus.CounterVec
	ClaimConflicts   prometheus.Counter
	DispatchDuration prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates and registers every collector on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.TasksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "tasks_total",
		Help:      "Feed tasks finished, by final status",
	}, []string{"status"})

	m.TaskDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "task_duration_seconds",
		Help:      "Wall time of one feed generation task",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
	})

	m.FeedRows = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "rows_total",
		Help:      "Rows written to feed files",
	})

	m.UploadedBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "uploaded_bytes_total",
		Help:      "Bytes uploaded to pre-signed URLs",
	})

	m.LedgerInserts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ledger",
		Name:      "inserts_total",
		Help:      "Ledger rows created by ensure-exists",
	}, []string{"entity_type"})

	m.DispatchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "sync",
		Name:      "dispatches_total",
		Help:      "Live-sync API calls, by topic and result",
	}, []string{"topic", "result"})

	m.ClaimConflicts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "sync",
		Name:      "claim_conflicts_total",
		Help:      "Ledger rows skipped because another worker held the lock",
	})

	m.DispatchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "sync",
		Name:      "dispatch_duration_seconds",
		Help:      "Latency of live-sync API calls",
		Buckets:   prometheus.DefBuckets,
	})

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TaskFinished records one task outcome
func (m *Metrics) TaskFinished(status string, elapsed time.Duration, rows int, bytes int64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(elapsed.Seconds())
	m.FeedRows.Add(float64(rows))
	m.UploadedBytes.Add(float64(bytes))
}

// EntitiesInserted records ledger rows created for entityType
func (m *Metrics) EntitiesInserted(entityType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LedgerInserts.WithLabelValues(entityType).Add(float64(n))
}

// Dispatched records one live-sync call
func (m *Metrics) Dispatched(topic string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.DispatchesTotal.WithLabelValues(topic, result).Inc()
	m.DispatchDuration.Observe(elapsed.Seconds())
}

// ClaimConflict records a row skipped because it was locked
func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.ClaimConflicts.Inc()
}
