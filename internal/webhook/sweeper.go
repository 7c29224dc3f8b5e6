package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultSweepBatchSize = 50
	DefaultSweepRate      = 20
)

// Sweeper advances scheduled retries: it claims due RETRYING deliveries and
// attempts each of them once.
type Sweeper struct {
	deliveries  DeliveryStore
	executor    *Executor
	limiter     *rate.Limiter
	batchSize   int
	lease       time.Duration
	concurrency int
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
}

type SweeperConfig struct {
	BatchSize     int
	Lease         time.Duration
	RatePerSecond float64
	Concurrency   int
}

func NewSweeper(deliveries DeliveryStore, executor *Executor, cfg SweeperConfig, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultClaimLease
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultSweepRate
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultDispatchConcurrency
	}

	s := &Sweeper{
		deliveries:  deliveries,
		executor:    executor,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond))),
		batchSize:   cfg.BatchSize,
		lease:       cfg.Lease,
		concurrency: cfg.Concurrency,
		metrics:     noopMetrics{},
		logger:      logger.With("component", "retry_sweeper"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SweeperOption func(*Sweeper)

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

func WithSweeperMetrics(m MetricsRecorder) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// RunOnce closes out interrupted final attempts, then claims up to one
// batch of due deliveries and attempts them. It returns the number of
// deliveries claimed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	maxAttempts := s.executor.Scheduler().MaxAttempts()

	failed, err := s.deliveries.FailInterrupted(ctx, now, maxAttempts)
	if err != nil {
		s.logger.Error("failed to close out interrupted deliveries", "error", err)
	} else if failed > 0 {
		s.logger.Warn("interrupted final attempts marked failed", "count", failed)
	}

	claims, err := s.deliveries.ClaimDue(ctx, now, s.lease, maxAttempts, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due deliveries: %w", err)
	}
	if len(claims) == 0 {
		return 0, nil
	}

	s.metrics.SweepClaimed(len(claims))
	s.logger.Debug("claimed due deliveries", "count", len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, c := range claims {
		if err := s.limiter.Wait(gctx); err != nil {
			// unattempted claims expire with their lease and are picked up again
			break
		}
		g.Go(func() error {
			if err := s.executor.Attempt(context.WithoutCancel(gctx), c.Webhook, c.Delivery); err != nil {
				s.logger.Error("retry attempt not persisted",
					"delivery_id", c.Delivery.ID,
					"webhook_id", c.Webhook.ID,
					"error", err,
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return len(claims), err
	}
	return len(claims), nil
}

// Drain runs sweeps until no delivery is due.
func (s *Sweeper) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.RunOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// Schedule registers the sweep on c. Overlapping runs are skipped by the
// cron chain the caller configures.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		n, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("retry sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("retry sweep completed", "claimed", n)
		}
	})
}

// NewCron builds the scheduler that drives the sweeper. Overlapping sweeps
// are skipped rather than queued.
func NewCron(logger *slog.Logger) *cron.Cron {
	cl := cronLogger{logger: logger.With("component", "cron")}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
