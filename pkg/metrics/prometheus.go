// Package metrics provides Prometheus metrics for the Jass-Elo rating service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the rating service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Rating pipeline
	sessionsReceived  prometheus.Counter
	sessionsDuplicate prometheus.Counter
	sessionsProcessed prometheus.Counter
	sessionsFailed    prometheus.Counter
	gamesApplied      prometheus.Counter
	gamesSkipped      *prometheus.CounterVec
	playerDeltaAbs    prometheus.Histogram
	sessionLatency    prometheus.Histogram
	playersTotal      prometheus.Gauge

	// Store
	commitLatency   prometheus.Histogram
	queryLatency    prometheus.Histogram
	commitConflicts prometheus.Counter
	commitRetries   prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerBusyWaits         prometheus.Counter

	// Rebuild and gate
	rebuildRuns     *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	rebuildState    prometheus.Gauge
	rebuildReplayed prometheus.Counter
	gateAcquire     *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorRateByComponent *prometheus.CounterVec
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
		namespace:        "jasselo",
		subsystem:        "rating",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	latencyMs := []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	m.sessionsReceived = m.counter("sessions_received_total", "Total number of sessions accepted for rating")
	m.sessionsDuplicate = m.counter("sessions_duplicate_total", "Total number of duplicate session submissions")
	m.sessionsProcessed = m.counter("sessions_processed_total", "Total number of sessions committed to the rating store")
	m.sessionsFailed = m.counter("sessions_failed_total", "Total number of sessions that could not be committed")
	m.gamesApplied = m.counter("games_applied_total", "Total number of games that moved ratings")
	m.gamesSkipped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "games_skipped_total",
		Help:      "Total number of malformed games skipped, by reason",
	}, []string{"reason"})
	m.playerDeltaAbs = m.histogram("player_delta_abs", "Absolute per-player rating change of one game",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 15})
	m.sessionLatency = m.histogram("session_processing_latency_milliseconds", "Time to fold and commit one session", latencyMs)
	m.playersTotal = m.gauge("players_total", "Number of rated players")

	m.commitLatency = m.histogram("repository_commit_latency_milliseconds", "Store commit latency", latencyMs)
	m.queryLatency = m.histogram("repository_query_latency_milliseconds", "Store query latency", latencyMs)
	m.commitConflicts = m.counter("repository_commit_conflicts_total", "Commits rejected by an optimistic version check")
	m.commitRetries = m.counter("commit_retries_total", "Session commits retried after a failure")

	m.queueSize = m.gauge("queue_size", "Current number of sessions waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (0-1)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of sessions enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of sessions dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueues")

	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker time per session", latencyMs)
	m.workerErrors = m.counter("worker_errors_total", "Sessions the worker gave up on")
	m.workerBusyWaits = m.counter("worker_busy_waits_total", "Times the worker waited for a rebuild to finish")

	m.rebuildRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rebuild_runs_total",
		Help:      "Finished rebuild runs by terminal state",
	}, []string{"state"})
	m.rebuildDuration = m.histogram("rebuild_duration_seconds", "Wall time of a rebuild run",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900})
	m.rebuildState = m.gauge("rebuild_state", "Current rebuild state (0 idle, 1 resetting, 2 replaying, 3 done, 4 failed)")
	m.rebuildReplayed = m.counter("rebuild_sessions_replayed_total", "Sessions replayed by rebuild runs")
	m.gateAcquire = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gate_acquire_total",
		Help:      "Rebuild gate acquisitions by mode and result",
	}, []string{"mode", "result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_component_total",
		Help:      "Errors by component and type",
	}, []string{"component", "error_type"})
}

// RecordSessionReceived increments the accepted sessions counter.
func RecordSessionReceived() { globalManager.sessionsReceived.Inc() }

// RecordSessionDuplicate increments the duplicate sessions counter.
func RecordSessionDuplicate() { globalManager.sessionsDuplicate.Inc() }

// RecordSessionProcessed increments the committed sessions counter.
func RecordSessionProcessed() { globalManager.sessionsProcessed.Inc() }

// RecordSessionFailed increments the failed sessions counter.
func RecordSessionFailed() { globalManager.sessionsFailed.Inc() }

// RecordGamesApplied adds n applied games.
func RecordGamesApplied(n int) { globalManager.gamesApplied.Add(float64(n)) }

// RecordGameSkipped increments the skipped games counter for reason.
func RecordGameSkipped(reason string) { globalManager.gamesSkipped.WithLabelValues(reason).Inc() }

// RecordPlayerDelta observes the magnitude of one player's rating change.
func RecordPlayerDelta(delta float64) {
	if delta < 0 {
		delta = -delta
	}
	globalManager.playerDeltaAbs.Observe(delta)
}

// RecordSessionLatency records fold-and-commit latency in milliseconds.
func RecordSessionLatency(latencyMs float64) { globalManager.sessionLatency.Observe(latencyMs) }

// UpdatePlayersTotal sets the number of rated players.
func UpdatePlayersTotal(count int) { globalManager.playersTotal.Set(float64(count)) }

// RecordRepositoryCommitLatency records store commit latency.
func RecordRepositoryCommitLatency(latencyMs float64) { globalManager.commitLatency.Observe(latencyMs) }

// RecordRepositoryQueryLatency records store query latency.
func RecordRepositoryQueryLatency(latencyMs float64) { globalManager.queryLatency.Observe(latencyMs) }

// RecordCommitConflict increments the optimistic conflict counter.
func RecordCommitConflict() { globalManager.commitConflicts.Inc() }

// RecordCommitRetry increments the commit retry counter.
func RecordCommitRetry() { globalManager.commitRetries.Inc() }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordWorkerBusyWait increments the busy-wait counter.
func RecordWorkerBusyWait() { globalManager.workerBusyWaits.Inc() }

// RecordRebuildRun records a finished rebuild and its duration in seconds.
func RecordRebuildRun(state string, durationSeconds float64) {
	globalManager.rebuildRuns.WithLabelValues(state).Inc()
	globalManager.rebuildDuration.Observe(durationSeconds)
}

// UpdateRebuildState publishes the numeric rebuild state.
func UpdateRebuildState(state int) { globalManager.rebuildState.Set(float64(state)) }

// RecordRebuildSessionReplayed increments the replayed sessions counter.
func RecordRebuildSessionReplayed() { globalManager.rebuildReplayed.Inc() }

// RecordGateAcquire records a gate acquisition attempt.
func RecordGateAcquire(mode, result string) {
	globalManager.gateAcquire.WithLabelValues(mode, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
