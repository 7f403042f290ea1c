// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// VarCalculations counts VaR estimates by method and outcome
	// ("ok", "insufficient_data", "error").
	VarCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_var_calculations_total",
		Help: "Total VaR calculations by method and outcome",
	}, []string{"method", "outcome"})

	// VarLatency tracks end-to-end VaR latency including data fetch.
	VarLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_var_latency_seconds",
		Help:    "VaR calculation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// LastVarValue is the most recent dollar VaR per method. Account is
	// deliberately not a label to bound cardinality.
	LastVarValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "riskengine_last_var_dollars",
		Help: "Most recently computed VaR in dollars",
	}, []string{"method"})

	// MissingPrices counts valuations that fell back to cost basis.
	MissingPrices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_missing_price_fallbacks_total",
		Help: "Positions valued without a price observation",
	})

	// DroppedReturns counts non-finite returns removed from return series.
	DroppedReturns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_dropped_returns_total",
		Help: "Returns dropped because the prior valuation was zero or negative",
	})

	// RiskAlerts counts raised limit breaches by kind.
	RiskAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_risk_alerts_total",
		Help: "Risk limit breaches raised",
	}, []string{"kind"})

	// JobRuns counts scheduled job executions by job and outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_job_runs_total",
		Help: "Scheduled job executions",
	}, []string{"job", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveVar records one VaR calculation.
func ObserveVar(method, outcome string, started time.Time, dollars float64) {
	VarCalculations.WithLabelValues(method, outcome).Inc()
	VarLatency.WithLabelValues(method).Observe(time.Since(started).Seconds())
	if outcome == "ok" {
		LastVarValue.WithLabelValues(method).Set(dollars)
	}
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

		// Account IDs live in the path; label with the route pattern instead.
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

// Hijack lets the WebSocket upgrader take over wrapped connections.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
