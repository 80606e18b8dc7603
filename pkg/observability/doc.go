// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithFields(map[string]interface{}{"app": "reports", "role": "leaf"}).Info("mounted")
//
// Request-scoped logging picks up the request and browser ids:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).Warn("token refresh failed")
//
// # Session Metrics
//
// Metrics and OTelMetrics both implement SessionRecorder; combine them with
// MultiRecorder:
//
//	metrics := observability.NewMetrics(registry)
//	otelMetrics, _ := observability.NewOTelMetrics()
//	recorder := observability.MultiRecorder{metrics, otelMetrics}
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, redisClient)
//	checker.AddCheck("oidc_discovery", false, provider.Ping)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Shutdown
//
//	shutdown := observability.NewShutdownManager(logger, 30*time.Second)
//	shutdown.RegisterServer(server)
//	shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return client.Close() })
//	err := shutdown.WaitForShutdown(ctx)
package observability
