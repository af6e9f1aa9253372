// Package metrics provides Prometheus metrics for the ladder leaderboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets are millisecond buckets; store operations are sub-millisecond
// so the low end is finer than prometheus.DefBuckets.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000} //nolint:gochecknoglobals // static bucket layout

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ranking store
	storeOperations     *prometheus.CounterVec
	storeLatency        *prometheus.HistogramVec
	boardMembers        *prometheus.GaugeVec
	boardCount          prometheus.Gauge
	invariantViolations *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Ingestion queue
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	mutationsApplied        *prometheus.CounterVec
	duplicates              *prometheus.CounterVec

	// Snapshots
	snapshotDuration *prometheus.HistogramVec
	snapshotTotal    *prometheus.CounterVec
	snapshotLastUnix prometheus.Gauge

	// Journal
	journalPublished *prometheus.CounterVec
	journalConsumed  *prometheus.CounterVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ladder",
		subsystem:        "leaderboard",
		histogramBuckets: latencyBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.storeOperations = auto.NewCounterVec(m.counterOpts("store_operations_total", "Ranking store operations by board, operation and outcome"), []string{"board", "op", "outcome"})
	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_operation_latency_milliseconds", "Ranking store operation latency in milliseconds"), []string{"op"})
	m.boardMembers = auto.NewGaugeVec(m.gaugeOpts("board_members", "Number of members per board"), []string{"board"})
	m.boardCount = auto.NewGauge(m.gaugeOpts("boards", "Number of live boards"))
	m.invariantViolations = auto.NewCounterVec(m.counterOpts("invariant_violations_total", "Detected divergences between member and order index"), []string{"board"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Configured mutation queue capacity"))
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current mutation queue backlog"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization", "Queue backlog divided by capacity"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Mutations accepted into the queue"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Mutations handed to workers"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Mutations rejected by the queue"))

	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active", "Number of running workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Time to apply one queued mutation"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Mutations that failed to apply"))
	m.mutationsApplied = auto.NewCounterVec(m.counterOpts("mutations_applied_total", "Mutations applied by source and op"), []string{"source", "op"})
	m.duplicates = auto.NewCounterVec(m.counterOpts("duplicates_total", "Requests skipped by idempotency tracking"), []string{"source"})

	m.snapshotDuration = auto.NewHistogramVec(m.histogramOpts("snapshot_duration_milliseconds", "Snapshot save/load duration"), []string{"backend", "direction"})
	m.snapshotTotal = auto.NewCounterVec(m.counterOpts("snapshots_total", "Snapshot runs by backend and outcome"), []string{"backend", "outcome"})
	m.snapshotLastUnix = auto.NewGauge(m.gaugeOpts("snapshot_last_success_unix", "Unix time of the last successful snapshot"))

	m.journalPublished = auto.NewCounterVec(m.counterOpts("journal_published_total", "Mutations written to the journal"), []string{"outcome"})
	m.journalConsumed = auto.NewCounterVec(m.counterOpts("journal_consumed_total", "Mutations read from the journal"), []string{"outcome"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component and type"), []string{"component", "error_type"})
	m.errorsByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total", "Errors by type and severity"), []string{"error_type", "severity"})
	m.errorsByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
}

// Ranking store.

func RecordStoreOperation(board, op, outcome string) {
	globalManager.storeOperations.WithLabelValues(board, op, outcome).Inc()
}

func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

func UpdateBoardMembers(board string, count int) {
	globalManager.boardMembers.WithLabelValues(board).Set(float64(count))
}

// DeleteBoardMembers drops the per-board gauge when a board is removed.
func DeleteBoardMembers(board string) {
	globalManager.boardMembers.DeleteLabelValues(board)
}

func UpdateBoardCount(count int) {
	globalManager.boardCount.Set(float64(count))
}

func RecordInvariantViolation(board string) {
	globalManager.invariantViolations.WithLabelValues(board).Inc()
}

// HTTP.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Queue.

func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Workers.

func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

func RecordMutationApplied(source, op string) {
	globalManager.mutationsApplied.WithLabelValues(source, op).Inc()
}

func RecordDuplicate(source string) {
	globalManager.duplicates.WithLabelValues(source).Inc()
}

// Snapshots.

func RecordSnapshotDuration(backend, direction string, durationMs float64) {
	globalManager.snapshotDuration.WithLabelValues(backend, direction).Observe(durationMs)
}

func RecordSnapshot(backend, outcome string) {
	globalManager.snapshotTotal.WithLabelValues(backend, outcome).Inc()
}

func UpdateSnapshotLastUnix(ts float64) {
	globalManager.snapshotLastUnix.Set(ts)
}

// Journal.

func RecordJournalPublished(outcome string) {
	globalManager.journalPublished.WithLabelValues(outcome).Inc()
}

func RecordJournalConsumed(outcome string) {
	globalManager.journalConsumed.WithLabelValues(outcome).Inc()
}

// Errors.

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry the package-level recorders write to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
