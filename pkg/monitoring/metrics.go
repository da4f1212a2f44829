package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for the access service
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)

	accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Total number of authorization decisions by outcome",
		},
		[]string{"service", "operation", "outcome", "reason"},
	)

	contentOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_operations_total",
			Help: "Total number of content store operations",
		},
		[]string{"service", "operation", "status"},
	)

	databaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"service", "query_type"},
	)
)

// MetricsCollector provides methods for recording metrics
type MetricsCollector struct {
	serviceName string
}

// NewMetricsCollector creates a new metrics collector and registers all metrics
func NewMetricsCollector(serviceName string) *MetricsCollector {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		accessDecisionsTotal,
		contentOperationsTotal,
		databaseQueryDuration,
	)

	return &MetricsCollector{serviceName: serviceName}
}

// RecordHTTPRequest records an HTTP request metric
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(m.serviceName, method, endpoint, statusStr).Inc()
	httpRequestDuration.WithLabelValues(m.serviceName, method, endpoint).Observe(duration.Seconds())
}

// RecordDecision records an authorization decision outcome. reason is empty
// for allowed decisions.
func (m *MetricsCollector) RecordDecision(operation string, allowed bool, reason string) {
	outcome := "allow"
	if !allowed {
		outcome = "deny"
	}
	accessDecisionsTotal.WithLabelValues(m.serviceName, operation, outcome, reason).Inc()
}

// RecordContentOperation records a content store operation
func (m *MetricsCollector) RecordContentOperation(operation, status string) {
	contentOperationsTotal.WithLabelValues(m.serviceName, operation, status).Inc()
}

// RecordDatabaseQuery records a database query duration
func (m *MetricsCollector) RecordDatabaseQuery(queryType string, duration time.Duration) {
	databaseQueryDuration.WithLabelValues(m.serviceName, queryType).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware returns middleware that records request metrics
func (m *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
