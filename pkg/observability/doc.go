// Package observability provides structured logging, Prometheus metrics, health checks
// and OpenTelemetry tracing for the search indexer.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("entity_class", class).Error("Indexing failed")
//
// Consumers attach the message and job ids to the context and derive a
// logger from it:
//
//	ctx = observability.WithMessageID(ctx, msg.ID)
//	observability.FromContext(ctx).Info("processing")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordMessage("search.index_entities_by_range", "ACK", time.Second)
//
// All Record helpers accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "search-indexer",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/queue: Per-message logging and metrics
package observability
