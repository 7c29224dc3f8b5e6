package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

// Processor attempts one queued delivery.
type Processor interface {
	ProcessQueued(ctx context.Context, deliveryID uuid.UUID) error
}

const errorBackoff = time.Second

// Consumer runs a fixed number of workers pulling delivery ids from the
// queue and handing them to the processor.
type Consumer struct {
	queue     *RedisQueue
	processor Processor
	workers   int
	logger    *slog.Logger
}

func NewConsumer(queue *RedisQueue, processor Processor, workers int, logger *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		queue:     queue,
		processor: processor,
		workers:   workers,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled. A delivery already handed to the
// processor is finished before its worker returns.
func (c *Consumer) Run(ctx context.Context) error {
	if n, err := c.queue.Recover(ctx); err != nil {
		c.logger.Error("failed to recover in-flight deliveries", "error", err)
	} else if n > 0 {
		c.logger.Info("recovered in-flight deliveries", "count", n)
	}

	c.logger.Info("queue consumer started", "workers", c.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		worker := i
		g.Go(func() error {
			c.work(gctx, worker)
			return nil
		})
	}
	err := g.Wait()

	c.logger.Info("queue consumer stopped")
	return err
}

func (c *Consumer) work(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		id, ok, err := c.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to dequeue delivery", "worker", worker, "error", err)
			if !errors.Is(err, ErrMalformedID) {
				sleep(ctx, errorBackoff)
			}
			continue
		}
		if !ok {
			continue
		}

		if !c.handle(context.WithoutCancel(ctx), worker, id) {
			sleep(ctx, errorBackoff)
		}
	}
}

// handle reports whether the processor accepted the delivery.
func (c *Consumer) handle(ctx context.Context, worker int, id uuid.UUID) bool {
	if err := c.processor.ProcessQueued(ctx, id); err != nil {
		if errors.Is(err, webhook.ErrDeliveryLeased) {
			c.logger.Info("queued delivery still leased, requeueing",
				"worker", worker,
				"delivery_id", id,
			)
		} else {
			c.logger.Error("failed to process queued delivery",
				"worker", worker,
				"delivery_id", id,
				"error", err,
			)
		}
		if err := c.queue.Nack(ctx, id); err != nil {
			c.logger.Error("failed to requeue delivery", "delivery_id", id, "error", err)
		}
		return false
	}

	if err := c.queue.Ack(ctx, id); err != nil {
		c.logger.Warn("failed to ack delivery", "delivery_id", id, "error", err)
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
