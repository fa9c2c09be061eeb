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

	// Blob store metrics
	BlobOperationTotal    *prometheus.CounterVec
	BlobOperationDuration *prometheus.HistogramVec
	BlobBytes             *prometheus.CounterVec

	// Ledger call metrics
	LedgerCallTotal    *prometheus.CounterVec
	LedgerCallDuration *prometheus.HistogramVec

	// Publish pipeline metrics
	PipelineStepTotal    *prometheus.CounterVec
	PipelineStepDuration *prometheus.HistogramVec

	// Access workflow metrics
	AccessResolveTotal *prometheus.CounterVec
	QuizGradedTotal    *prometheus.CounterVec

	// Receipt log metrics
	ReceiptOperationTotal *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "academy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		BlobOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_blob_operations_total",
			Help: "Total number of blob store operations",
		}, []string{"backend", "operation", "status"}),

		BlobOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "academy_blob_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"backend", "operation", "status"}),

		BlobBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_blob_uploaded_bytes_total",
			Help: "Total bytes uploaded to the blob store",
		}, []string{"backend"}),

		LedgerCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_ledger_calls_total",
			Help: "Total number of ledger RPC calls",
		}, []string{"method", "status"}),

		LedgerCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "academy_ledger_call_duration_seconds",
			Help:    "Ledger RPC call duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		PipelineStepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_publish_steps_total",
			Help: "Total number of publish pipeline steps",
		}, []string{"step", "status"}),

		PipelineStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "academy_publish_step_duration_seconds",
			Help:    "Publish pipeline step duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step", "status"}),

		AccessResolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_access_resolve_total",
			Help: "Access snapshots resolved, by resulting state",
		}, []string{"state"}),

		QuizGradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_quiz_graded_total",
			Help: "Quiz submissions graded, by outcome",
		}, []string{"outcome"}),

		ReceiptOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_receipt_operations_total",
			Help: "Receipt log operations",
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "academy_event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// ObserveBlob records one blob store operation.
func (m *Metrics) ObserveBlob(backend, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	s := status(err)
	m.BlobOperationTotal.WithLabelValues(backend, op, s).Inc()
	m.BlobOperationDuration.WithLabelValues(backend, op, s).Observe(d.Seconds())
}

// ObserveLedger records one ledger RPC call.
func (m *Metrics) ObserveLedger(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	s := status(err)
	m.LedgerCallTotal.WithLabelValues(method, s).Inc()
	m.LedgerCallDuration.WithLabelValues(method, s).Observe(d.Seconds())
}

// ObserveStep records one publish pipeline step.
func (m *Metrics) ObserveStep(step string, err error, d time.Duration) {
	if m == nil {
		return
	}
	s := status(err)
	m.PipelineStepTotal.WithLabelValues(step, s).Inc()
	m.PipelineStepDuration.WithLabelValues(step, s).Observe(d.Seconds())
}

// ObserveEvent records one event publish.
func (m *Metrics) ObserveEvent(eventType string, err error, d time.Duration) {
	if m == nil {
		return
	}
	s := status(err)
	m.EventPublishTotal.WithLabelValues(eventType, s).Inc()
	m.EventPublishDuration.WithLabelValues(eventType, s).Observe(d.Seconds())
}

// ObserveReceipt records one receipt log operation.
func (m *Metrics) ObserveReceipt(op string, err error) {
	if m == nil {
		return
	}
	m.ReceiptOperationTotal.WithLabelValues(op, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	// Try to register each metric, ignore if already registered
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.BlobOperationTotal)
	registerOrGet(m.BlobOperationDuration)
	registerOrGet(m.BlobBytes)
	registerOrGet(m.LedgerCallTotal)
	registerOrGet(m.LedgerCallDuration)
	registerOrGet(m.PipelineStepTotal)
	registerOrGet(m.PipelineStepDuration)
	registerOrGet(m.AccessResolveTotal)
	registerOrGet(m.QuizGradedTotal)
	registerOrGet(m.ReceiptOperationTotal)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.EventPublishDuration)
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
