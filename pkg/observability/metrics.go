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
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Trust engine metrics
	PermissionChecksTotal     *prometheus.CounterVec
	GuardedOperationsTotal    *prometheus.CounterVec
	GuardedOperationDuration  *prometheus.HistogramVec
	AuditEntriesWrittenTotal  *prometheus.CounterVec
	AuditWriteFailuresTotal   prometheus.Counter
	ImpersonationStartsTotal  prometheus.Counter
	ImpersonationSessionsLive prometheus.Gauge

	// Billing metrics
	WebhookEventsTotal    *prometheus.CounterVec
	PlanOverridesTotal    prometheus.Counter
	CheckoutSessionsTotal *prometheus.CounterVec
	SubscriptionsByStatus *prometheus.GaugeVec

	// Entitlement metrics
	EntitlementEvaluationsTotal   *prometheus.CounterVec
	EntitlementEvaluationDuration prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge

	// Business metrics (refreshed by the aggregator)
	OrganisationsByStatus         *prometheus.GaugeVec
	AuditEntriesByCategory        *prometheus.GaugeVec
	SuperAdminsActive             prometheus.Gauge
	OrganisationsAtStorageWarning prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Trust engine metrics
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_checks_total",
				Help: "Total number of super-admin permission checks",
			},
			[]string{"permission", "result"},
		),
		GuardedOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_guarded_operations_total",
				Help: "Total number of guarded privileged operations",
			},
			[]string{"action", "status"},
		),
		GuardedOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_guarded_operation_duration_seconds",
				Help:    "Guarded operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		AuditEntriesWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_entries_written_total",
				Help: "Total number of audit entries written",
			},
			[]string{"category"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_write_failures_total",
				Help: "Total number of failed audit writes (surfaced, never rolled back)",
			},
		),
		ImpersonationStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_impersonation_starts_total",
				Help: "Total number of impersonation sessions started",
			},
		),
		ImpersonationSessionsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_impersonation_sessions_live",
				Help: "Number of unexpired active impersonation sessions",
			},
		),

		// Billing metrics
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_webhook_events_total",
				Help: "Total number of payment processor webhook events",
			},
			[]string{"type", "status"},
		),
		PlanOverridesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_plan_overrides_total",
				Help: "Total number of administrative plan overrides",
			},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_checkout_sessions_total",
				Help: "Total number of checkout/portal sessions created",
			},
			[]string{"kind", "status"},
		),
		SubscriptionsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_subscriptions_by_status",
				Help: "Organisations per subscription status",
			},
			[]string{"status"},
		),

		// Entitlement metrics
		EntitlementEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_entitlement_evaluations_total",
				Help: "Total number of entitlement report evaluations",
			},
			[]string{"source"},
		),
		EntitlementEvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_entitlement_evaluation_duration_seconds",
				Help:    "Entitlement report evaluation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),

		// Business metrics
		OrganisationsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_organisations_by_status",
				Help: "Organisations per lifecycle status",
			},
			[]string{"status"},
		),
		AuditEntriesByCategory: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_audit_entries_by_category",
				Help: "Total audit entries per category",
			},
			[]string{"category"},
		),
		SuperAdminsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_super_admins_active",
				Help: "Number of active super admins",
			},
		),
		OrganisationsAtStorageWarning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_organisations_at_storage_warning",
				Help: "Organisations at or above the storage warning threshold",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.PermissionChecksTotal,
		m.GuardedOperationsTotal,
		m.GuardedOperationDuration,
		m.AuditEntriesWrittenTotal,
		m.AuditWriteFailuresTotal,
		m.ImpersonationStartsTotal,
		m.ImpersonationSessionsLive,
		m.WebhookEventsTotal,
		m.PlanOverridesTotal,
		m.CheckoutSessionsTotal,
		m.SubscriptionsByStatus,
		m.EntitlementEvaluationsTotal,
		m.EntitlementEvaluationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.OrganisationsByStatus,
		m.AuditEntriesByCategory,
		m.SuperAdminsActive,
		m.OrganisationsAtStorageWarning,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
