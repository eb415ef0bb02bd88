// Package metrics provides Prometheus instrumentation for the flash-loan engine.
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
	// LoansIssued counts loans issued, partitioned by asset.
	LoansIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_loans_issued_total",
		Help: "Total number of flash loans issued",
	}, []string{"asset"})

	// LoansRepaid counts loans repaid, partitioned by asset.
	LoansRepaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_loans_repaid_total",
		Help: "Total number of flash loans repaid",
	}, []string{"asset"})

	// PrincipalBorrowed tracks cumulative principal lent, in asset units.
	PrincipalBorrowed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_principal_borrowed_total",
		Help: "Cumulative principal lent, in asset units",
	}, []string{"asset"})

	// FeesAccrued tracks cumulative fees credited to pools on repay.
	FeesAccrued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_fees_accrued_total",
		Help: "Cumulative fees credited to pool balances, in asset units",
	}, []string{"asset"})

	// Deposits counts deposits, partitioned by asset.
	Deposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_deposits_total",
		Help: "Total number of deposits into pools",
	}, []string{"asset"})

	// PoolBalance is the tracked balance of each pool.
	PoolBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flashloan_pool_balance",
		Help: "Tracked pool balance, in asset units",
	}, []string{"asset"})

	// ActivePools tracks the number of pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flashloan_pools",
		Help: "Number of liquidity pools",
	})

	// OperationLatency tracks engine operation latency.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flashloan_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// OperationErrors counts rejected operations by operation and reason.
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_operation_errors_total",
		Help: "Engine operations rejected, by reason",
	}, []string{"op", "reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flashloan_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flashloan_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records the latency of an engine operation started at start.
func ObserveOperation(op string, start time.Time) {
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Hijack lets WebSocket upgrades pass through the middleware.
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
