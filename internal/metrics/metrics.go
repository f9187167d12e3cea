// Package metrics provides Prometheus instrumentation for the perp engine.
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
	// PositionsOpened counts positions opened, partitioned by direction.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"market_id", "direction"})

	// PositionsClosed counts voluntary closes.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_positions_closed_total",
		Help: "Total number of positions closed by their trader",
	}, []string{"market_id"})

	// PositionsLiquidated counts forced liquidations.
	PositionsLiquidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_positions_liquidated_total",
		Help: "Total number of positions liquidated",
	}, []string{"market_id"})

	// OpenPositions tracks the number of currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_open_positions",
		Help: "Number of currently open positions",
	})

	// LiquidationRejections counts liquidation attempts that failed the
	// eligibility re-check.
	LiquidationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perp_liquidation_rejections_total",
		Help: "Liquidation attempts rejected as not yet eligible",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perp_http_request_duration_seconds",
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
