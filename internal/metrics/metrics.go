package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline metrics live on a private registry so the /metrics endpoint only
// exposes what this binary owns.
var (
	registry *prometheus.Registry
	once     sync.Once

	portalRequestsTotal   *prometheus.CounterVec
	portalRequestDuration *prometheus.HistogramVec
	sessionRefreshesTotal *prometheus.CounterVec
	patientsProcessed     *prometheus.CounterVec
	artifactsWritten      *prometheus.CounterVec
	storeOperationsTotal  *prometheus.CounterVec
	storeOperationTime    *prometheus.HistogramVec
	queueDepth            prometheus.Gauge
)

// Registry returns the metrics registry, initializing all collectors on
// first use.
func Registry() *prometheus.Registry {
	once.Do(initMetrics)
	return registry
}

func initMetrics() {
	registry = prometheus.NewRegistry()

	portalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "his_portal_requests_total",
			Help: "Total number of HTTP requests issued to the hospital portal",
		},
		[]string{"endpoint", "status"},
	)

	portalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "his_portal_request_duration_seconds",
			Help:    "Duration of HTTP requests to the hospital portal",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	sessionRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "his_session_refreshes_total",
			Help: "Total number of mid-run session re-authentications",
		},
		[]string{"reason"},
	)

	patientsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_patients_processed_total",
			Help: "Total number of patients that reached a terminal status",
		},
		[]string{"status"},
	)

	artifactsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_artifacts_written_total",
			Help: "Total number of artifact files written",
		},
		[]string{"kind", "integrity"},
	)

	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_store_operations_total",
			Help: "Total number of progress store operations",
		},
		[]string{"operation", "status"},
	)

	storeOperationTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "progress_store_operation_duration_seconds",
			Help:    "Duration of progress store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extraction_queue_depth",
			Help: "Number of patients still waiting for a worker",
		},
	)

	registry.MustRegister(
		portalRequestsTotal,
		portalRequestDuration,
		sessionRefreshesTotal,
		patientsProcessed,
		artifactsWritten,
		storeOperationsTotal,
		storeOperationTime,
		queueDepth,
	)
}

// RecordPortalRequest records the outcome of one portal request.
func RecordPortalRequest(endpoint, status string) {
	Registry()
	portalRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordPortalRequestDuration records how long one portal request took.
func RecordPortalRequestDuration(endpoint string, duration time.Duration) {
	Registry()
	portalRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSessionRefresh records a mid-run re-authentication.
func RecordSessionRefresh(reason string) {
	Registry()
	sessionRefreshesTotal.WithLabelValues(reason).Inc()
}

// RecordPatientOutcome records a patient reaching a terminal status.
func RecordPatientOutcome(status string) {
	Registry()
	patientsProcessed.WithLabelValues(status).Inc()
}

// RecordArtifact records one artifact file written.
func RecordArtifact(kind, integrity string) {
	Registry()
	artifactsWritten.WithLabelValues(kind, integrity).Inc()
}

// RecordStoreOperation records one progress store operation.
func RecordStoreOperation(operation, status string) {
	Registry()
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStoreOperationDuration records how long a store operation took.
func RecordStoreOperationDuration(operation string, duration time.Duration) {
	Registry()
	storeOperationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetQueueDepth updates the waiting-patient gauge.
func SetQueueDepth(n int) {
	Registry()
	queueDepth.Set(float64(n))
}
