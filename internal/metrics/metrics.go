// Package metrics exposes Prometheus instrumentation for the device flow and its HTTP surface
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wrale/device-grant/internal/deviceflow"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics records device flow activity. It implements deviceflow.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Poll responses by outcome
	PollOutcomes *prometheus.CounterVec

	// Committed status transitions
	Transitions *prometheus.CounterVec

	// Generated codes that collided with an existing record
	CodeCollisions prometheus.Counter

	// Verification requests rejected by the rate limiter
	RateLimited prometheus.Counter

	RequestTotal   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

var _ deviceflow.Recorder = (*Metrics)(nil)

// New creates a Metrics instance on its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PollOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "device_grant_poll_outcomes_total",
			Help: "Device token poll responses by outcome",
		}, []string{"outcome"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "device_grant_transitions_total",
			Help: "Device authorization status transitions",
		}, []string{"from", "to"}),
		CodeCollisions: f.NewCounter(prometheus.CounterOpts{
			Name: "device_grant_code_collisions_total",
			Help: "Generated device or user codes that were already taken",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "device_grant_verification_rate_limited_total",
			Help: "Verification requests rejected by the rate limiter",
		}),
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "device_grant_http_requests_total",
			Help: "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "device_grant_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP handlers",
			Buckets: histogramBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// PollOutcome records a poll response
func (m *Metrics) PollOutcome(outcome deviceflow.PollOutcome) {
	if m != nil {
		m.PollOutcomes.WithLabelValues(string(outcome)).Inc()
	}
}

// Transition records a committed status change
func (m *Metrics) Transition(from, to deviceflow.Status) {
	if m != nil {
		m.Transitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// CodeCollision records a regenerated code
func (m *Metrics) CodeCollision() {
	if m != nil {
		m.CodeCollisions.Inc()
	}
}

// RateLimitHit records a rejected verification request
func (m *Metrics) RateLimitHit() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		m.RequestTotal.With(labels).Inc()
		m.RequestLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}
