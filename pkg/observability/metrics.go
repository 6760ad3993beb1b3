package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal        *prometheus.CounterVec
	ValidationErrorsTotal *prometheus.CounterVec
	LookupFailuresTotal   *prometheus.CounterVec

	// Scope metrics
	ScopeResolveDuration *prometheus.HistogramVec
	ScopeCacheHitsTotal  prometheus.Counter
	ScopeCacheMissTotal  prometheus.Counter
	ScopeInvalidations   *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal        *prometheus.CounterVec
	AuditWriteFailuresTotal *prometheus.CounterVec
	AuditQueueDepth         prometheus.Gauge
	AuditDrainDuration      prometheus.Histogram

	// Invitation metrics
	InviterConflictsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"operation", "role", "outcome"},
		),
		ValidationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_validation_errors_total",
				Help: "Total number of rejected malformed authorization requests",
			},
			[]string{"operation", "field"},
		),
		LookupFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_lookup_failures_total",
				Help: "Total number of assignment, scope or location lookups that failed",
			},
			[]string{"operation", "stage"},
		),

		ScopeResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantguard_scope_resolve_duration_seconds",
				Help:    "Scope resolution duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"role", "status"},
		),
		ScopeCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantguard_scope_cache_hits_total",
				Help: "Total number of scope cache hits",
			},
		),
		ScopeCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantguard_scope_cache_misses_total",
				Help: "Total number of scope cache misses",
			},
		),
		ScopeInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_scope_cache_invalidations_total",
				Help: "Total number of scope cache entries dropped by change events",
			},
			[]string{"source"},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_audit_writes_total",
				Help: "Total number of audit entries written",
			},
			[]string{"sink"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_audit_write_failures_total",
				Help: "Total number of audit entries that could not be written",
			},
			[]string{"sink"},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantguard_audit_queue_depth",
				Help: "Number of audit entries waiting to be written",
			},
		),
		AuditDrainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenantguard_audit_drain_duration_seconds",
				Help:    "Time responses waited for the actor's audit entries",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),

		InviterConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantguard_inviter_conflicts_total",
				Help: "Total number of invitations whose inviter fields disagree",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.ValidationErrorsTotal,
		m.LookupFailuresTotal,
		m.ScopeResolveDuration,
		m.ScopeCacheHitsTotal,
		m.ScopeCacheMissTotal,
		m.ScopeInvalidations,
		m.AuditWritesTotal,
		m.AuditWriteFailuresTotal,
		m.AuditQueueDepth,
		m.AuditDrainDuration,
		m.InviterConflictsTotal,
	)

	return m
}

// NewUnregisteredMetrics returns metrics attached to a throwaway registry
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveDecision records one authorization outcome
func (m *Metrics) ObserveDecision(operation, role string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.DecisionsTotal.WithLabelValues(operation, role, outcome).Inc()
}

// ObserveValidationError records a rejected request
func (m *Metrics) ObserveValidationError(operation, field string) {
	if m == nil {
		return
	}
	m.ValidationErrorsTotal.WithLabelValues(operation, field).Inc()
}

// ObserveLookupFailure records a storage lookup that prevented a decision
func (m *Metrics) ObserveLookupFailure(operation, stage string) {
	if m == nil {
		return
	}
	m.LookupFailuresTotal.WithLabelValues(operation, stage).Inc()
}

// ObserveScopeResolution records how long resolving a scope took
func (m *Metrics) ObserveScopeResolution(role string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ScopeResolveDuration.WithLabelValues(role, status).Observe(d.Seconds())
}

// ObserveScopeCache records a cache hit or miss
func (m *Metrics) ObserveScopeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ScopeCacheHitsTotal.Inc()
	} else {
		m.ScopeCacheMissTotal.Inc()
	}
}

// ObserveScopeInvalidation records dropped cache entries
func (m *Metrics) ObserveScopeInvalidation(source string, dropped int) {
	if m == nil || dropped == 0 {
		return
	}
	m.ScopeInvalidations.WithLabelValues(source).Add(float64(dropped))
}

// ObserveAuditWrite records the result of writing one audit entry
func (m *Metrics) ObserveAuditWrite(sink string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.AuditWriteFailuresTotal.WithLabelValues(sink).Inc()
		return
	}
	m.AuditWritesTotal.WithLabelValues(sink).Inc()
}

// SetAuditQueueDepth updates the pending audit entry gauge
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(n))
}

// ObserveAuditDrain records how long a response waited for audit entries
func (m *Metrics) ObserveAuditDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.AuditDrainDuration.Observe(d.Seconds())
}

// ObserveInviterConflict counts an invitation with disagreeing inviter fields
func (m *Metrics) ObserveInviterConflict() {
	if m == nil {
		return
	}
	m.InviterConflictsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label, usually the route template.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
