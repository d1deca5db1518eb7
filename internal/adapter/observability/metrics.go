// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// LLMRequestsTotal counts LLM classification/verification requests by model and outcome.
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)
	// LLMRequestDuration records durations of LLM requests by model.
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model", "outcome"},
	)

	// ERPRequestsTotal counts ERP client calls by operation and outcome.
	ERPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_requests_total",
			Help: "Total number of ERP requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	// ERPRequestDuration records durations of ERP calls by operation.
	ERPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erp_request_duration_seconds",
			Help:    "ERP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	// VerificationsEnqueuedTotal counts verification requests enqueued.
	VerificationsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifications_enqueued_total",
			Help: "Total number of verification requests enqueued",
		},
		[]string{"source"},
	)
	// VerificationsProcessing is a gauge of verification requests currently in flight.
	VerificationsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verifications_processing",
			Help: "Number of verification requests currently processing",
		},
		[]string{},
	)
	// VerificationsCompletedTotal counts verification requests by terminal status.
	VerificationsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifications_completed_total",
			Help: "Total number of verification requests by terminal status",
		},
		[]string{"status"},
	)

	// DocumentsClassifiedTotal counts documents classified by resulting type.
	DocumentsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_classified_total",
			Help: "Total number of documents classified by resulting document type",
		},
		[]string{"document_type"},
	)

	// DiscrepanciesFoundTotal counts discrepancies raised by severity.
	DiscrepanciesFoundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discrepancies_found_total",
			Help: "Total number of discrepancies found by severity",
		},
		[]string{"severity"},
	)

	// WriteBackAttemptsTotal counts write-back attempts by outcome.
	WriteBackAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writeback_attempts_total",
			Help: "Total number of ERP write-back attempts by outcome",
		},
		[]string{"outcome"},
	)

	// QueueDeadLetteredTotal counts messages routed to the dead-letter topic.
	QueueDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dead_lettered_total",
			Help: "Total number of queue messages routed to the dead-letter topic",
		},
		[]string{"reason"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(ERPRequestsTotal)
	prometheus.MustRegister(ERPRequestDuration)
	prometheus.MustRegister(VerificationsEnqueuedTotal)
	prometheus.MustRegister(VerificationsProcessing)
	prometheus.MustRegister(VerificationsCompletedTotal)
	prometheus.MustRegister(DocumentsClassifiedTotal)
	prometheus.MustRegister(DiscrepanciesFoundTotal)
	prometheus.MustRegister(WriteBackAttemptsTotal)
	prometheus.MustRegister(QueueDeadLetteredTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueVerification increments the enqueued verifications counter for the given source.
func EnqueueVerification(source string) {
	VerificationsEnqueuedTotal.WithLabelValues(source).Inc()
}

// StartProcessingVerification increments the in-flight verifications gauge.
func StartProcessingVerification() {
	VerificationsProcessing.WithLabelValues().Inc()
}

// FinishProcessingVerification decrements the in-flight gauge and records the terminal status.
func FinishProcessingVerification(status string) {
	VerificationsProcessing.WithLabelValues().Dec()
	VerificationsCompletedTotal.WithLabelValues(status).Inc()
}

// RecordDocumentClassified records the resulting document type of a classification.
func RecordDocumentClassified(documentType string) {
	DocumentsClassifiedTotal.WithLabelValues(documentType).Inc()
}

// RecordDiscrepancy records one discrepancy by severity.
func RecordDiscrepancy(severity string) {
	DiscrepanciesFoundTotal.WithLabelValues(severity).Inc()
}

// RecordWriteBack records the outcome of a write-back attempt.
func RecordWriteBack(outcome string) {
	WriteBackAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordQueueDeadLetter records a message routed to the dead-letter topic.
func RecordQueueDeadLetter(reason string) {
	QueueDeadLetteredTotal.WithLabelValues(reason).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
