// Package observability exposes the prometheus metrics surface: request
// accounting plus the authorization counters and the legacy-migration gauge.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects prometheus metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authRejected    *prometheus.CounterVec
	authzDenied     *prometheus.CounterVec
	legacyFallback  *prometheus.CounterVec
	unmigratedUsers prometheus.Gauge
}

// NewMetrics initializes the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsedesk_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulsedesk_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	authRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsedesk_auth_rejected_total",
		Help: "Authentication rejections by wire code.",
	}, []string{"code"})
	authzDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsedesk_authz_denied_total",
		Help: "Authorization denials by wire code.",
	}, []string{"code"})
	legacyFallback := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsedesk_legacy_fallback_total",
		Help: "Requests allowed through the deprecated legacy-role fallback, by tier.",
	}, []string{"tier"})
	unmigrated := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulsedesk_unmigrated_users",
		Help: "Active principals still lacking a dynamic role assignment.",
	})
	registry.MustRegister(requests, duration, authRejected, authzDenied, legacyFallback, unmigrated)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		authRejected:    authRejected,
		authzDenied:     authzDenied,
		legacyFallback:  legacyFallback,
		unmigratedUsers: unmigrated,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// AuthRejected counts an authentication rejection.
func (m *Metrics) AuthRejected(code string) {
	if m != nil {
		m.authRejected.WithLabelValues(code).Inc()
	}
}

// AuthzDenied counts an authorization denial.
func (m *Metrics) AuthzDenied(code string) {
	if m != nil {
		m.authzDenied.WithLabelValues(code).Inc()
	}
}

// LegacyFallback counts a request allowed through the legacy-role fallback.
func (m *Metrics) LegacyFallback(tier string) {
	if m != nil {
		m.legacyFallback.WithLabelValues(tier).Inc()
	}
}

// SetUnmigratedUsers publishes the migration-completion gauge.
func (m *Metrics) SetUnmigratedUsers(count int64) {
	if m != nil {
		m.unmigratedUsers.Set(float64(count))
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
