package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mittalrahul074/picklist/internal/handlers"
	"github.com/mittalrahul074/picklist/internal/platform/auth"
	"github.com/mittalrahul074/picklist/internal/platform/config"
	"github.com/mittalrahul074/picklist/internal/platform/feeds"
	"github.com/mittalrahul074/picklist/internal/platform/idempotency"
	"github.com/mittalrahul074/picklist/internal/platform/observability"
	"github.com/mittalrahul074/picklist/internal/platform/retry"
	"github.com/mittalrahul074/picklist/internal/platform/secrets"
	"github.com/mittalrahul074/picklist/internal/repositories"
	"github.com/mittalrahul074/picklist/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	policy := retry.Policy{
		MaxAttempts:    cfg.Transactions.MaxAttempts,
		InitialBackoff: cfg.Transactions.InitialBackoff,
		MaxBackoff:     cfg.Transactions.MaxBackoff,
		Multiplier:     cfg.Transactions.Multiplier,
		Timeout:        cfg.Transactions.Timeout,
	}

	store, err := openStore(ctx, cfg, policy, logger)
	if err != nil {
		logger.Fatal("failed to open order store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer store.close()

	publisher, err := openEvents(ctx, cfg, metrics, logger)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.String("backend", cfg.Events.Backend), zap.Error(err))
	}
	defer publisher.close()

	exports, err := openExports(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise picklist exports", zap.Error(err))
	}
	defer exports.close()

	newID := func() string { return ulid.Make().String() }

	allocationService, err := services.NewAllocationService(services.AllocationServiceDeps{
		Orders:      store.orders,
		Events:      publisher.publisher,
		Metrics:     metrics,
		Logger:      logger,
		IDGenerator: newID,
	})
	if err != nil {
		logger.Fatal("failed to initialise allocation service", zap.Error(err))
	}
	ingestionService, err := services.NewIngestionService(services.IngestionServiceDeps{
		Orders:    store.orders,
		BatchSize: cfg.Ingestion.BatchSize,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise ingestion service", zap.Error(err))
	}
	queryService, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:       store.orders,
		RecentWindow: cfg.Orders.RecentWindow,
	})
	if err != nil {
		logger.Fatal("failed to initialise order query service", zap.Error(err))
	}
	snapshot, err := services.NewOrderSnapshotCache(queryService, cfg.Orders.SnapshotTTL, nil)
	if err != nil {
		logger.Fatal("failed to initialise order snapshot cache", zap.Error(err))
	}
	outOfStockService, err := services.NewOutOfStockService(services.OutOfStockServiceDeps{
		Reports: store.outOfStock,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise out of stock service", zap.Error(err))
	}
	reportDeps := services.ReportServiceDeps{
		Orders:      snapshot,
		Logger:      logger,
		IDGenerator: newID,
	}
	if exports.exporter != nil {
		reportDeps.Writer = exports.exporter
	}
	reportService, err := services.NewReportService(reportDeps)
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	var consumer *feeds.Consumer
	if strings.TrimSpace(cfg.Feed.URL) != "" {
		consumer, err = feeds.Dial(cfg.Feed.URL, cfg.Feed.Queue, cfg.Feed.Prefetch, logger)
		if err != nil {
			logger.Fatal("failed to connect order feed", zap.Error(err))
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Warn("order feed close error", zap.Error(err))
			}
		}()
	}

	checks := append([]repositories.DependencyCheck{}, store.checks...)
	checks = append(checks, publisher.checks...)
	checks = append(checks, exports.checks...)
	if consumer != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "feed", Check: consumer.Ping})
	}
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   startedAt,
	}
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	var workers sync.WaitGroup
	if consumer != nil {
		handle := feeds.NewIngestHandler(invalidatingIngester{next: ingestionService, snapshot: snapshot}, metrics, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx, handle); err != nil {
				logger.Error("order feed stopped", zap.Error(err))
			}
		}()
	}

	var orderOpts []handlers.OrderOption
	if cfg.Server.IngestSigningSecret != "" {
		verifier, err := auth.NewVerifier(cfg.Server.IngestSigningSecret)
		if err != nil {
			logger.Fatal("invalid ingest signing secret", zap.Error(err))
		}
		orderOpts = append(orderOpts, handlers.WithIngestMiddleware(verifier.Middleware))
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
			observability.ActorMiddleware(cfg.Server.ActorHeader),
			observability.RequestLoggerMiddleware(metrics),
			idempotency.Middleware(store.replay, idempotency.WithTTL(cfg.Server.IdempotencyTTL)),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthSystemService(systemService),
			handlers.WithHealthBuildInfo(buildInfo),
		)),
		handlers.WithSKURoutes(handlers.NewSKUHandlers(allocationService, snapshot,
			handlers.WithAllocationRateLimit(cfg.Server.AllocationRateLimit, cfg.Server.AllocationRateWindow, nil),
		).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(queryService, allocationService, ingestionService, snapshot, orderOpts...).Routes),
		handlers.WithOutOfStockRoutes(handlers.NewOutOfStockHandlers(outOfStockService).Routes),
		handlers.WithReportRoutes(handlers.NewReportHandlers(reportService).Routes),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, handlers.WithMetricsHandler(metrics.Handler()))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend))
	go func() {
		serverLogger.Info("picklist api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	workers.Wait()
}

// invalidatingIngester drops the order snapshot after feed batches that created orders.
type invalidatingIngester struct {
	next     services.IngestionService
	snapshot *services.OrderSnapshotCache
}

func (i invalidatingIngester) Ingest(ctx context.Context, rows []services.OrderInput, platform string) (int, error) {
	n, err := i.next.Ingest(ctx, rows, platform)
	if n > 0 {
		i.snapshot.Invalidate()
	}
	return n, err
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	project := lookup("PICKLIST_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("PICKLIST_FIRESTORE_PROJECT_ID")
	}
	opts := []secrets.Option{secrets.WithLogger(logger)}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookup("PICKLIST_SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}
