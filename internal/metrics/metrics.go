// Package metrics holds the Prometheus collectors shared across the admin service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage metrics, labelled by concrete backend
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageFallbackTotal     *prometheus.CounterVec

	// Binary uploads to object stores
	UploadTotal *prometheus.CounterVec

	// AI generation calls
	GenerationTotal    *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide Metrics, creating and registering it on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purrfect_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "purrfect_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purrfect_storage_operations_total",
			Help: "Total number of storage operations per backend",
		}, []string{"backend", "operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "purrfect_storage_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "operation"}),

		StorageFallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purrfect_storage_fallbacks_total",
			Help: "Operations that fell back from the remote backend to the local one",
		}, []string{"operation"}),

		UploadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purrfect_uploads_total",
			Help: "Binary uploads to remote object stores",
		}, []string{"provider", "status"}),

		GenerationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purrfect_generations_total",
			Help: "AI generation calls",
		}, []string{"kind", "status"}),

		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "purrfect_generation_duration_seconds",
			Help:    "AI generation latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purrfect_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),
	}

	registerMetrics(m)
	globalMetrics = m

	return m
}

// ObserveStorage records one storage call against backend.
func (m *Metrics) ObserveStorage(backend, operation string, started time.Time, err error) {
	m.StorageOperationTotal.WithLabelValues(backend, operation, Status(err)).Inc()
	m.StorageOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(started).Seconds())
}

// ObserveGeneration records one AI generation call.
func (m *Metrics) ObserveGeneration(kind string, started time.Time, err error) {
	m.GenerationTotal.WithLabelValues(kind, Status(err)).Inc()
	m.GenerationDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// Status maps an error to the "success"/"error" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.StorageFallbackTotal)
	registerOrGet(m.UploadTotal)
	registerOrGet(m.GenerationTotal)
	registerOrGet(m.GenerationDuration)
	registerOrGet(m.EventPublishTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
