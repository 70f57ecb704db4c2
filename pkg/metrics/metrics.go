// Package metrics exposes Prometheus collectors for logins, session
// refreshes, activity fetches and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "touchgrass"

// OutcomeSuccess labels successful operations.
const OutcomeSuccess = "success"

// Metrics holds the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	activityFetch *prometheus.CounterVec
	indexValues   prometheus.Histogram
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Completed authorization flows by outcome",
		}, []string{"outcome"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_refreshes_total",
			Help:      "Access token refresh attempts by outcome",
		}, []string{"outcome"}),
		activityFetch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_fetches_total",
			Help:      "Provider listing fetches by source and result",
		}, []string{"source", "result"}),
		indexValues: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "touch_grass_index",
			Help:      "Distribution of computed touch grass index values",
			Buckets:   prometheus.LinearBuckets(0, 20, 8),
		}),
	}
}

// RegisterGauge exposes a value read at scrape time, such as the number of
// live sessions.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Login records a completed authorization flow. An empty code is a success.
func (m *Metrics) Login(code string) {
	if code == "" {
		code = OutcomeSuccess
	}
	m.logins.WithLabelValues(code).Inc()
}

// Refresh records a session refresh outcome.
func (m *Metrics) Refresh(outcome string) {
	m.refreshes.WithLabelValues(outcome).Inc()
}

// ActivityFetch records one provider listing fetch.
func (m *Metrics) ActivityFetch(source string, err error) {
	result := OutcomeSuccess
	if err != nil {
		result = "error"
	}
	m.activityFetch.WithLabelValues(source, result).Inc()
}

// TouchGrassIndex records a computed index value.
func (m *Metrics) TouchGrassIndex(v int) {
	m.indexValues.Observe(float64(v))
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latencies labeled by chi route
// pattern, so path parameters do not inflate cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
