package pregel

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for monitoring
// a running or completed Pregel loop in production.
//
// Metrics exposed (all namespaced "pregel_"):
//
//  1. inflight_tasks (gauge): tasks currently executing within a
//     superstep. Labels: thread_id.
//  2. queue_depth (gauge): tasks waiting for a dispatch slot. Labels:
//     thread_id.
//  3. step_latency_ms (histogram): superstep duration. Labels: thread_id,
//     status (success/error/paused).
//  4. retries_total (counter): task retry attempts. Labels: thread_id,
//     node.
//  5. write_conflicts_total (counter): channel InvalidUpdate errors — the
//     equivalent of a merge conflict in this system. Labels: thread_id,
//     channel.
//  6. backpressure_events_total (counter): dispatch-queue saturation
//     events. Labels: thread_id, reason.
type PrometheusMetrics struct {
	inflightTasks prometheus.Gauge
	queueDepth    prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	writeConflict *prometheus.CounterVec
	backpressure  *prometheus.CounterVec

	registry prometheus.Registerer
	mu       sync.RWMutex
	enabled  bool
}

// NewPrometheusMetrics creates and registers all Pregel loop metrics with
// the given registry. A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{registry: registry, enabled: true}

	pm.inflightTasks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "pregel",
		Name:      "inflight_tasks",
		Help:      "Current number of tasks executing concurrently within a superstep",
	})
	pm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "pregel",
		Name:      "queue_depth",
		Help:      "Number of tasks waiting for a dispatch slot",
	})
	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pregel",
		Name:      "step_latency_ms",
		Help:      "Superstep duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"thread_id", "status"})
	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pregel",
		Name:      "retries_total",
		Help:      "Cumulative count of task retry attempts",
	}, []string{"thread_id", "node"})
	pm.writeConflict = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pregel",
		Name:      "write_conflicts_total",
		Help:      "Channel InvalidUpdate errors detected during apply-writes",
	}, []string{"thread_id", "channel"})
	pm.backpressure = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pregel",
		Name:      "backpressure_events_total",
		Help:      "Dispatch-queue saturation events",
	}, []string{"thread_id", "reason"})

	return pm
}

func (pm *PrometheusMetrics) RecordStepLatency(threadID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(threadID, status).Observe(float64(latency.Milliseconds()))
}

func (pm *PrometheusMetrics) IncrementRetries(threadID, node string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(threadID, node).Inc()
}

func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	if !pm.isEnabled() {
		return
	}
	pm.queueDepth.Set(float64(depth))
}

func (pm *PrometheusMetrics) UpdateInflightTasks(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightTasks.Set(float64(count))
}

func (pm *PrometheusMetrics) IncrementWriteConflicts(threadID, channel string) {
	if !pm.isEnabled() {
		return
	}
	pm.writeConflict.WithLabelValues(threadID, channel).Inc()
}

func (pm *PrometheusMetrics) IncrementBackpressure(threadID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.backpressure.WithLabelValues(threadID, reason).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
