package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "stet"

type serverMetrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	CorrectionsTotal       *prometheus.CounterVec
	HeartbeatsTotal        *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *serverMetrics
)

// loadMetrics registers on the default registry exactly once so tests can
// build multiple handlers without duplicate-registration panics.
func loadMetrics() *serverMetrics {
	metricsOnce.Do(func() {
		metrics = &serverMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: "http",
					Name:      "requests_total",
					Help:      "HTTP requests by method, path and status code.",
				},
				[]string{"method", "path", "status"},
			),
			RequestDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: "http",
					Name:      "request_duration_seconds",
					Help:      "HTTP request duration in seconds.",
					Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
				},
				[]string{"method", "path"},
			),
			CorrectionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: "ledger",
					Name:      "corrections_total",
					Help:      "Correction write outcomes.",
				},
				[]string{"outcome"},
			),
			HeartbeatsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: "enforcement",
					Name:      "heartbeats_total",
					Help:      "Enforcement heartbeat report outcomes.",
				},
				[]string{"outcome"},
			),
			RateLimitedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: "http",
					Name:      "rate_limited_total",
					Help:      "Requests rejected by the per-tenant rate limiter.",
				},
			),
		}
	})
	return metrics
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withRequestMetrics(m *serverMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.RequestDurationSeconds.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
