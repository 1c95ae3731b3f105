// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Context-aware logging:
//
//	observability.FromContext(ctx).WithError(err).Error("Request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.PermissionChecksTotal.WithLabelValues("impersonate-users", "granted").Inc()
//	metrics.AuditWriteFailuresTotal.Inc()
//
// Business metrics (refreshed by the aggregator):
//
//	metrics.OrganisationsByStatus.WithLabelValues("active").Set(float64(count))
//	metrics.SuperAdminsActive.Set(float64(activeAdmins))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:        true,
//		ServiceName:    "warden-api",
//		ServiceVersion: "v1.0.0",
//		Endpoint:       "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
