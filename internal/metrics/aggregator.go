package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DepthSource reports how many items are waiting in a queue.
type DepthSource interface {
	Len(ctx context.Context) (int64, error)
}

// Aggregator periodically samples point-in-time values that are not
// observed on the hot path, such as the dispatch queue depth.
type Aggregator struct {
	source   DepthSource
	recorder *Recorder
	logger   *slog.Logger
	interval time.Duration
	done     chan struct{}
}

func NewAggregator(source DepthSource, recorder *Recorder, logger *slog.Logger, interval time.Duration) *Aggregator {
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Aggregator{
		source:   source,
		recorder: recorder,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start samples once immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("metrics aggregator started", "interval", a.interval)
	a.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics aggregator stopped")
			return
		case <-a.done:
			a.logger.Info("metrics aggregator stopped")
			return
		case <-ticker.C:
			a.sample(ctx)
		}
	}
}

func (a *Aggregator) Stop() {
	close(a.done)
}

func (a *Aggregator) sample(ctx context.Context) {
	n, err := a.source.Len(ctx)
	if err != nil {
		a.logger.Warn("failed to sample queue depth", "error", err)
		return
	}
	a.recorder.SetQueueDepth(n)
}
