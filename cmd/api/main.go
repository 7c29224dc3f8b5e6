package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/api"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/config"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/database"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/metrics"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/queue"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/repository"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type stores struct {
	webhooks   webhook.WebhookStore
	deliveries webhook.DeliveryStore
	checks     []handler.Check
	close      func()
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting HookRelay API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreDriver),
		slog.String("dispatch_mode", cfg.DispatchMode),
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reg := metrics.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	auditLogger := audit.NewSlogLogger(logger)

	executor := webhook.NewExecutor(st.webhooks, st.deliveries, webhook.NewRetryScheduler(), logger,
		webhook.WithAttemptTimeout(cfg.DeliveryTimeout),
		webhook.WithInFlightLease(cfg.SweepLease),
		webhook.WithMetrics(recorder),
		webhook.WithAuditLogger(auditLogger),
	)
	registry := webhook.NewRegistry(st.webhooks, logger,
		webhook.WithRegistryAudit(auditLogger),
		webhook.WithSecretGracePeriod(cfg.SecretGracePeriod),
	)

	dispatchOpts := []webhook.DispatcherOption{
		webhook.WithConcurrency(cfg.DispatchConcurrency),
		webhook.WithClaimLease(cfg.SweepLease),
	}

	// Background workers share one lifetime; the first failure stops all.
	workers, workersCtx := errgroup.WithContext(ctx)

	var q *queue.RedisQueue
	if cfg.QueueEnabled() {
		q, err = queue.NewRedisQueue(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = q.Close() }()

		dispatchOpts = append(dispatchOpts, webhook.WithQueue(q))
		st.checks = append(st.checks, handler.Check{Name: "queue", Ping: q.Ping})
	}

	dispatcher := webhook.NewDispatcher(st.webhooks, st.deliveries, executor, logger, dispatchOpts...)

	if q != nil {
		consumer := queue.NewConsumer(q, dispatcher, cfg.QueueWorkers, logger)
		workers.Go(func() error { return consumer.Run(workersCtx) })

		aggregator := metrics.NewAggregator(q, recorder, logger, 0)
		workers.Go(func() error {
			aggregator.Start(workersCtx)
			return nil
		})
	}

	// Retry sweeper
	sweeper := webhook.NewSweeper(st.deliveries, executor, webhook.SweeperConfig{
		BatchSize:     cfg.SweepBatchSize,
		Lease:         cfg.SweepLease,
		RatePerSecond: cfg.SweepRatePerSecond,
		Concurrency:   cfg.DispatchConcurrency,
	}, logger, webhook.WithSweeperMetrics(recorder))

	scheduler := webhook.NewCron(logger)
	if _, err := sweeper.Schedule(workersCtx, scheduler, cfg.SweepSchedule); err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
	}
	scheduler.Start()
	logger.Info("retry sweeper scheduled", slog.String("schedule", cfg.SweepSchedule))

	// Setup router
	router := api.NewRouter(logger, api.Config{
		APIToken:        cfg.APIToken,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}, &api.Dependencies{
		Registry:   registry,
		Dispatcher: dispatcher,
		Deliveries: st.deliveries,
		Metrics:    recorder,
		Gatherer:   reg,
		Checks:     st.checks,
	})
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-workersCtx.Done():
		if ctx.Err() == nil {
			logger.Error("background worker stopped unexpectedly")
		}
	case err := <-errChan:
		runErr = fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	if err := router.Shutdown(); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}

	stop()

	// Let in-flight sweeps and queued attempts finish, bounded.
	done := make(chan error, 1)
	go func() {
		<-scheduler.Stop().Done()
		done <- workers.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker error", slog.Any("error", err))
			if runErr == nil {
				runErr = err
			}
		}
	case <-time.After(shutdownTimeout):
		logger.Warn("timed out waiting for workers")
	}

	logger.Info("server stopped")
	return runErr
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{webhooks: mem, deliveries: mem, close: func() {}}, nil
	}

	pool, err := database.NewPgxPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &stores{
		webhooks:   repository.NewWebhookRepository(pool),
		deliveries: repository.NewDeliveryRepository(pool),
		checks: []handler.Check{{
			Name: "database",
			Ping: func(ctx context.Context) error { return database.HealthCheck(ctx, pool) },
		}},
		close: pool.Close,
	}, nil
}
