// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for tenantguard.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("assignment revoked")
//
// Entries are JSON lines written through logrus. FromContext adds the
// request id and the authenticated actor.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("has_permission", "landlord", false)
//
// All Observe helpers are safe on a nil *Metrics.
//
// # Health
//
// HealthChecker pings the database and redis and runs registered component
// checks. The audit pipeline registers itself as a critical component, so
// repeated audit write failures take the readiness probe down.
package observability
