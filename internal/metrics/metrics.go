// Package metrics provides Prometheus instrumentation for the broker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FillsTotal counts order fill attempts, partitioned by result
	// (filled, unfilled, failed).
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperbroker_fills_total",
		Help: "Total number of order fill attempts",
	}, []string{"result"})

	// FillLatency tracks order fill latency.
	FillLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paperbroker_fill_latency_seconds",
		Help:    "Order fill latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ExpirationsTotal counts option positions settled at expiration.
	ExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperbroker_expirations_total",
		Help: "Option positions settled at expiration",
	})

	// MarginCalculationsTotal counts maintenance margin computations,
	// partitioned by whether the position set had a representable margin.
	MarginCalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperbroker_margin_calculations_total",
		Help: "Maintenance margin computations",
	}, []string{"representable"})

	// OpenAccounts tracks the number of accounts opened this process.
	OpenAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paperbroker_open_accounts",
		Help: "Number of accounts opened",
	})

	// ConstraintRejections counts orders rejected by the post-fill
	// cash/margin admission check.
	ConstraintRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperbroker_constraint_rejections_total",
		Help: "Orders rejected by cash or margin constraints",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paperbroker_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperbroker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paperbroker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
