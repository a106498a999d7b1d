// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts requests by method, route pattern, and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moodswing_http_requests_total",
		Help: "HTTP requests processed, partitioned by method, path, and status code.",
	}, []string{"method", "path", "status"})

	// HTTPDuration observes request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moodswing_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// TradesTotal counts trade outcomes by final status.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moodswing_trades_total",
		Help: "Trades by final status (filled, failed, cancelled).",
	}, []string{"status"})

	// ReserveRetries counts compare-and-set retries on reserve updates.
	ReserveRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moodswing_reserve_cas_retries_total",
		Help: "Reserve updates retried after losing a compare-and-set race.",
	})

	// SettlementsTotal counts completed market settlements.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moodswing_settlements_total",
		Help: "Markets settled.",
	})

	// SettlementPayouts counts winning-position credits written.
	SettlementPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moodswing_settlement_payouts_total",
		Help: "Settlement credits applied to the points ledger.",
	})

	// WSConnections gauges live websocket subscribers.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moodswing_ws_connections",
		Help: "Currently connected websocket clients.",
	})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments an HTTP handler with request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
