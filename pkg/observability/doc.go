// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown for the sitework server.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.ParseLevel(cfg.Log.Level), os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Request-scoped logging picks up request, user and org IDs from context:
//
//	observability.FromContext(ctx).WithError(err).Warn("membership lookup failed, retrying")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObservePlanDecision("invite_member", decision.Allowed)
//	metrics.ObservePermissionCheck("costs", "approve", allowed, err)
//
// All Observe helpers are safe on a nil *Metrics so libraries can be used
// without a registry.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version, mode)
//	observability.RegisterHealthRoutes(mux, checker)
package observability
