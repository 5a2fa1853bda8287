package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/reindexer/pkg/async"
	"github.com/platinummonkey/reindexer/pkg/config"
	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/httputil"
	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/observability"
	"github.com/platinummonkey/reindexer/pkg/queue"
	"github.com/platinummonkey/reindexer/pkg/search"
	"github.com/platinummonkey/reindexer/pkg/storage/postgres"
)

var version = "dev"

// maxRequestBytes bounds API request bodies
const maxRequestBytes = 1 << 20

func main() {
	migrateOnly := flag.Bool("migrate", false, "Create the job and index tables and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("Search indexer stopped with an error")
		os.Exit(1)
	}
}

// daemon holds everything the indexer wires together
type daemon struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	db       *postgres.ConnectionManager
	redis    *redis.Client
	runner   *job.Runner
	entities *entity.Registry
	indexer  search.Indexer
	searcher search.Searcher
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(); err != nil {
			logger.WithError(err).Error("Shutdown incomplete")
		}
	}()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	d := &daemon{cfg: cfg, logger: logger}
	if cfg.Observability.MetricsEnabled {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.metrics = observability.NewMetrics(d.registry)
	}

	if d.db, err = postgres.NewConnectionManager(cfg.Database, logger); err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return d.db.Close() })

	store := job.NewSQLStore(d.db.Primary(), job.DialectPostgres)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := d.openIndex(ctx, shutdown); err != nil {
		return err
	}
	if migrateOnly {
		logger.Info("Migrations applied")
		return nil
	}

	if d.redis, err = postgres.NewRedisClient(ctx, cfg.Redis); err != nil {
		return err
	}
	shutdown.Register("redis", func(context.Context) error { return d.redis.Close() })

	d.runner = job.NewRunner(store, job.NewRedisLocker(d.redis, cfg.Queue.Prefix+":lock"), job.RunnerConfig{
		LockTTL:   cfg.Queue.LockTTL,
		CacheSize: cfg.Index.JobCacheSize,
		CacheTTL:  cfg.Index.JobCacheTTL,
	}, logger, d.metrics)

	if d.entities, err = entity.BuildRegistry(cfg.Index.MappingFile, d.db); err != nil {
		return err
	}
	logger.WithField("classes", d.entities.Classes()).Info("Entity mappings loaded")

	return d.serve(ctx)
}

// openIndex creates the configured index backend and its tables
func (d *daemon) openIndex(ctx context.Context, shutdown *observability.ShutdownManager) error {
	switch d.cfg.Index.Backend {
	case config.IndexBackendBleve:
		idx, err := search.NewBleveIndexer(d.cfg.Index.BlevePath, d.metrics)
		if err != nil {
			return err
		}
		shutdown.Register("bleve", func(context.Context) error { return idx.Close() })
		d.indexer, d.searcher = idx, idx
	default:
		idx := search.NewPostgresIndexer(d.db.Primary(), d.metrics)
		if err := idx.Migrate(ctx); err != nil {
			return err
		}
		d.indexer, d.searcher = idx, idx
	}
	d.logger.WithField("backend", d.cfg.Index.Backend).Info("Search index ready")
	return nil
}

// serve runs the consumers, the scheduler, the mapping watcher and the HTTP
// server until ctx is cancelled
func (d *daemon) serve(ctx context.Context) error {
	transport := queue.NewRedisTransport(d.redis, d.cfg.Queue.Prefix).ForConsumer(d.cfg.Queue.Instance)
	recovered, err := transport.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		d.logger.WithFields(map[string]interface{}{
			"recovered": recovered,
			"instance":  d.cfg.Queue.Instance,
		}).Warn("Returned stranded messages to the queue")
	}
	producer := queue.NewProducer(transport, d.metrics)

	consumer := queue.NewConsumer(transport, queue.ConsumerConfig{PollTimeout: d.cfg.Queue.PollTimeout}, d.logger, d.metrics)
	processors := []queue.SubscribedProcessor{
		search.NewReindexProcessor(d.entities, d.runner, producer, d.logger),
		search.NewTypeProcessor(d.entities, d.runner, producer, search.TypeProcessorConfig{BatchSize: d.cfg.Index.BatchSize}, d.logger),
		search.NewRangeProcessor(d.entities, d.indexer, d.runner, d.logger, d.metrics),
	}
	for _, p := range processors {
		if err := consumer.Bind(p); err != nil {
			return err
		}
	}

	if d.cfg.Index.WatchMappings {
		watcher, err := entity.WatchMappings(d.cfg.Index.MappingFile, d.db, d.entities, d.logger)
		if err != nil {
			return err
		}
		async.SafeGo(ctx, d.logger, 0, "mapping watcher", watcher.Run)
	}

	if d.cfg.Index.ReindexSchedule != "" {
		scheduler, err := search.NewScheduler(d.cfg.Index.ReindexSchedule, nil, producer, d.logger)
		if err != nil {
			return err
		}
		scheduler.Start(ctx)
	}

	d.db.StartHealthCheckRoutine(ctx, 30*time.Second, d.metrics)
	if d.metrics != nil {
		go d.reportQueueDepth(ctx, transport)
	}

	server := &http.Server{
		Addr:         d.cfg.Server.Address(),
		Handler:      d.router(producer),
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
		IdleTimeout:  d.cfg.Server.IdleTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		d.logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	d.logger.WithField("consumers", d.cfg.Queue.Consumers).WithField("topics", consumer.Topics()).Info("Search indexer started")
	consumed := make(chan error, 1)
	go func() { consumed <- consumer.RunConsumers(ctx, d.cfg.Queue.Consumers) }()

	select {
	case <-ctx.Done():
		d.logger.Info("Shutting down search indexer")
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case err := <-consumed:
		if err != nil {
			return fmt.Errorf("consumers failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	_ = transport.Close()
	return nil
}

func (d *daemon) router(producer *queue.Producer) http.Handler {
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(d.logger),
		httputil.LoggingMiddleware(d.logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
		observability.HTTPMetricsMiddleware(d.metrics),
	)

	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(d.db.Primary(), d.redis, version))
	if d.registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(d.registry)).Methods(http.MethodGet)
	}
	search.NewHandlers(d.entities, d.runner, producer, d.searcher).RegisterRoutes(router)

	return otelhttp.NewHandler(router, "search-indexer")
}

func (d *daemon) reportQueueDepth(ctx context.Context, transport *queue.RedisTransport) {
	defer observability.RecoverPanic(d.logger, "queue depth reporter")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := transport.ReportDepth(ctx, d.metrics); err != nil {
				d.logger.WithError(err).Warn("Failed to report queue depth")
			}
		}
	}
}
