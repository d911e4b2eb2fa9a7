// Package metrics provides Prometheus metrics for the periscan inference engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the periscan service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Assessment Metrics - What really matters for an inference engine
	assessmentsProcessed prometheus.Counter
	assessmentsDegraded  prometheus.Counter
	assessmentErrors     prometheus.Counter
	assessmentLatency    prometheus.Histogram

	// Evaluator Metrics - Per-model kernel performance
	evaluatorLatency *prometheus.HistogramVec
	evaluatorErrors  *prometheus.CounterVec

	// Cache Metrics - Content-addressed result cache
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheCoalesced     prometheus.Counter
	cacheInvalidations prometheus.Counter
	cacheEvictions     prometheus.Counter
	cacheStoreErrors   prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue Metrics - Batch pipeline backlog
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics - Batch processing performance
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Repository Metrics - Assessment persistence
	repositoryWriteLatency prometheus.Histogram
	repositoryQueryLatency prometheus.Histogram
	assessmentsStored      prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "periscan",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.assessmentsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assessments_processed_total",
		Help:      "Total number of assessments successfully completed",
	})

	m.assessmentsDegraded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assessments_degraded_total",
		Help:      "Total number of assessments completed with a partial model set",
	})

	m.assessmentErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assessment_errors_total",
		Help:      "Total number of assessments that failed outright",
	})

	m.assessmentLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assessment_latency_milliseconds",
		Help:      "End-to-end assessment latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.evaluatorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "evaluator_latency_milliseconds",
			Help:      "Per-model kernel evaluation latency in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"model"},
	)

	m.evaluatorErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "evaluator_errors_total",
			Help:      "Total number of per-model evaluation failures",
		},
		[]string{"model"},
	)

	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Total number of result cache hits",
	})

	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Total number of result cache misses that triggered a computation",
	})

	m.cacheCoalesced = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_coalesced_total",
		Help:      "Total number of requests that joined an in-flight computation",
	})

	m.cacheInvalidations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_invalidations_total",
		Help:      "Total number of cache entries removed by explicit invalidation",
	})

	m.cacheEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_evictions_total",
		Help:      "Total number of cache entries evicted by TTL sweeps",
	})

	m.cacheStoreErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_store_errors_total",
		Help:      "Total number of cache backing-store failures",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the batch assessment queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum queue capacity",
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of jobs enqueued",
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of jobs dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of enqueue errors",
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active_count",
		Help:      "Number of active batch workers",
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Batch worker processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrorRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of batch worker errors",
	})

	m.repositoryWriteLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_write_latency_milliseconds",
		Help:      "Assessment repository write latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.repositoryQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_query_latency_milliseconds",
		Help:      "Assessment repository query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.assessmentsStored = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assessments_stored",
		Help:      "Number of assessment records currently persisted",
	})
}

// RecordAssessment increments the completed assessments counter.
func RecordAssessment() {
	globalManager.assessmentsProcessed.Inc()
}

// RecordAssessmentDegraded increments the degraded assessments counter.
func RecordAssessmentDegraded() {
	globalManager.assessmentsDegraded.Inc()
}

// RecordAssessmentError increments the failed assessments counter.
func RecordAssessmentError() {
	globalManager.assessmentErrors.Inc()
}

// RecordAssessmentLatency records end-to-end assessment latency in milliseconds.
func RecordAssessmentLatency(latencyMs float64) {
	globalManager.assessmentLatency.Observe(latencyMs)
}

// RecordEvaluatorLatency records a single model's evaluation latency.
func RecordEvaluatorLatency(mdl string, latencyMs float64) {
	globalManager.evaluatorLatency.WithLabelValues(mdl).Observe(latencyMs)
}

// RecordEvaluatorError increments the per-model evaluation error counter.
func RecordEvaluatorError(mdl string) {
	globalManager.evaluatorErrors.WithLabelValues(mdl).Inc()
}

// Cache Metrics Functions.

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// RecordCacheCoalesced increments the coalesced-request counter.
func RecordCacheCoalesced() {
	globalManager.cacheCoalesced.Inc()
}

// RecordCacheInvalidations adds n to the invalidation counter.
func RecordCacheInvalidations(n int) {
	globalManager.cacheInvalidations.Add(float64(n))
}

// RecordCacheEvictions adds n to the eviction counter.
func RecordCacheEvictions(n int) {
	globalManager.cacheEvictions.Add(float64(n))
}

// RecordCacheStoreError increments the cache store error counter.
func RecordCacheStoreError() {
	globalManager.cacheStoreErrors.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active batch workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records batch worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Repository Metrics Functions.

// RecordRepositoryWriteLatency records repository write operation latency.
func RecordRepositoryWriteLatency(latencyMs float64) {
	globalManager.repositoryWriteLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// UpdateAssessmentsStored sets the persisted assessment record count.
func UpdateAssessmentsStored(count int) {
	globalManager.assessmentsStored.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
