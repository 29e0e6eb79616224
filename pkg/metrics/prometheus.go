// Package metrics provides Prometheus metrics for the tournament service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the tournament service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion
	runsAccepted  prometheus.Counter
	runsSkipped   *prometheus.CounterVec
	runsDuplicate prometheus.Counter
	pointsAwarded prometheus.Counter
	passDuration  prometheus.Histogram
	passesTotal   *prometheus.CounterVec
	passNewRuns   prometheus.Gauge
	notices       prometheus.Counter

	// Reporting API
	apiRequests     *prometheus.CounterVec
	apiLatency      prometheus.Histogram
	apiRetries      prometheus.Counter
	apiTokenRefresh prometheus.Counter
	apiQuotaUsed    prometheus.Gauge

	// Live state and fan-out
	activeRuns      prometheus.Gauge
	teams           prometheus.Gauge
	wsClients       prometheus.Gauge
	broadcastDrops  prometheus.Counter
	eventsPublished *prometheus.CounterVec
	adminCommands   *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository Metrics
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Fetch queue and workers
	queueSize               prometheus.Gauge
	queueEnqueue            prometheus.Counter
	queueDequeue            prometheus.Counter
	queueEnqueueErrors      prometheus.Counter
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec
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
		namespace:        "mplus",
		subsystem:        "tournament",
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
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	passBuckets := []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000}

	m.runsAccepted = m.counter("runs_accepted_total", "Runs scored and committed")
	m.runsSkipped = m.counterVec("runs_skipped_total", "Candidate runs discarded before scoring", "reason")
	m.runsDuplicate = m.counter("runs_duplicate_total", "Candidate runs whose dedup key was already seen")
	m.pointsAwarded = m.counter("points_awarded_total", "Points added to the leaderboard")
	m.passDuration = m.histogram("pass_duration_milliseconds", "Ingestion pass duration in milliseconds", passBuckets)
	m.passesTotal = m.counterVec("passes_total", "Ingestion passes by outcome", "outcome")
	m.passNewRuns = m.gauge("pass_new_runs", "Runs accepted by the last ingestion pass")
	m.notices = m.counter("notices_total", "Operator notices produced by ingestion")

	m.apiRequests = m.counterVec("api_requests_total", "Reporting API requests by operation and outcome", "operation", "outcome")
	m.apiLatency = m.histogram("api_latency_milliseconds", "Reporting API request latency in milliseconds", passBuckets)
	m.apiRetries = m.counter("api_retries_total", "Reporting API request retries")
	m.apiTokenRefresh = m.counter("api_token_refreshes_total", "Access token exchanges")
	m.apiQuotaUsed = m.gauge("api_quota_used", "Requests counted in the current quota window")

	m.activeRuns = m.gauge("active_runs", "Runs currently in progress")
	m.teams = m.gauge("teams", "Teams on the roster")
	m.wsClients = m.gauge("ws_clients", "Connected websocket clients")
	m.broadcastDrops = m.counter("broadcast_drops_total", "Clients dropped because their outbox was full")
	m.eventsPublished = m.counterVec("events_published_total", "State change notifications by type", "type")
	m.adminCommands = m.counterVec("admin_commands_total", "Administrative commands by command and outcome", "command", "outcome")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds",
		"Repository update operation latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds",
		"Repository query operation latency in milliseconds", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Report jobs waiting for a fetch worker")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Report jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Report jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Report jobs rejected by the queue")
	m.workerActiveCount = m.gauge("worker_active_count", "Fetch workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Report fetch latency in milliseconds", passBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Report fetches that failed")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds",
		"Latency of operations that resulted in errors", "component", "error_type")
}

// Ingestion.

// RecordRunAccepted counts one committed run and its points.
func RecordRunAccepted(points int) {
	globalManager.runsAccepted.Inc()
	if points > 0 {
		globalManager.pointsAwarded.Add(float64(points))
	}
}

// RecordRunSkipped counts a discarded candidate run.
func RecordRunSkipped(reason string) {
	globalManager.runsSkipped.WithLabelValues(reason).Inc()
}

// RecordRunDuplicate counts a candidate run rejected by dedup.
func RecordRunDuplicate() {
	globalManager.runsDuplicate.Inc()
}

// RecordPass records one ingestion pass.
func RecordPass(outcome string, durationMs float64, newRuns int) {
	globalManager.passesTotal.WithLabelValues(outcome).Inc()
	globalManager.passDuration.Observe(durationMs)
	globalManager.passNewRuns.Set(float64(newRuns))
}

// RecordNotices counts operator notices.
func RecordNotices(n int) {
	globalManager.notices.Add(float64(n))
}

// Reporting API.

// RecordAPIRequest records one reporting API request.
func RecordAPIRequest(operation, outcome string, latencyMs float64) {
	globalManager.apiRequests.WithLabelValues(operation, outcome).Inc()
	globalManager.apiLatency.Observe(latencyMs)
}

// RecordAPIRetry counts one retried request.
func RecordAPIRetry() {
	globalManager.apiRetries.Inc()
}

// RecordTokenRefresh counts one token exchange.
func RecordTokenRefresh() {
	globalManager.apiTokenRefresh.Inc()
}

// UpdateAPIQuotaUsed sets the requests counted in the current window.
func UpdateAPIQuotaUsed(used int) {
	globalManager.apiQuotaUsed.Set(float64(used))
}

// Live state.

// UpdateActiveRuns sets the number of runs in progress.
func UpdateActiveRuns(n int) {
	globalManager.activeRuns.Set(float64(n))
}

// UpdateTeams sets the roster size.
func UpdateTeams(n int) {
	globalManager.teams.Set(float64(n))
}

// UpdateWSClients sets the connected websocket client count.
func UpdateWSClients(n int) {
	globalManager.wsClients.Set(float64(n))
}

// RecordBroadcastDrop counts one slow client dropped by the gateway.
func RecordBroadcastDrop() {
	globalManager.broadcastDrops.Inc()
}

// RecordEventPublished counts one state change notification.
func RecordEventPublished(eventType string) {
	globalManager.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordAdminCommand counts one administrative command.
func RecordAdminCommand(command, outcome string) {
	globalManager.adminCommands.WithLabelValues(command, outcome).Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository.

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue and workers.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
