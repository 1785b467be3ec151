// Package metrics provides Prometheus instrumentation for the clearing service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ClearingsTotal counts clearing runs by variant and outcome status.
	ClearingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_clearings_total",
		Help: "Total number of clearing runs",
	}, []string{"variant", "status"})

	// ClearedVolume tracks cumulative traded quantity per variant.
	ClearedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_cleared_volume_total",
		Help: "Cumulative cleared energy volume",
	}, []string{"variant"})

	ClearingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lem_clearing_latency_seconds",
		Help:    "Clearing run latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"variant"})

	// SatisfactionIterations records how many strips the satisfaction loop needed.
	SatisfactionIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lem_satisfaction_iterations",
		Help:    "Preference-satisfaction iterations per run",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 300},
	})

	// PositionsSubmitted counts accepted positions by side.
	PositionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_positions_submitted_total",
		Help: "Positions accepted for clearing",
	}, []string{"side"})

	// PositionRejections counts rejected submissions by validation rule.
	PositionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_position_rejections_total",
		Help: "Positions rejected by validation",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lem_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lem_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lem_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveClearing records one finished clearing run.
func ObserveClearing(variant, status string, volume int64, elapsed time.Duration) {
	ClearingsTotal.WithLabelValues(variant, status).Inc()
	ClearedVolume.WithLabelValues(variant).Add(float64(volume))
	ClearingLatency.WithLabelValues(variant).Observe(elapsed.Seconds())
}

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
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
