package webhook_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/repository"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

func seedRetrying(t *testing.T, h *harness, url string, count int) *webhook.Webhook {
	t.Helper()

	w := h.createWebhook(t, url, webhook.EventInvoiceOverdue)
	for i := 0; i < count; i++ {
		_, err := h.dispatcher.TriggerEvent(context.Background(), h.tenantID, webhook.EventInvoiceOverdue, map[string]int{"n": i})
		require.NoError(t, err)
	}
	return w
}

func TestSweeper_RunOnce_OnlyDueDeliveries(t *testing.T) {
	h := newHarness(t)
	sub := newSubscriber(t, http.StatusServiceUnavailable, h.clock)
	seedRetrying(t, h, sub.URL, 3)

	n, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Minute)
	sub.setStatus(http.StatusOK)

	n, err = h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, sub.received(), 6)
	assert.Equal(t, 3, h.metrics.claimed)

	n, err = h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_RunOnce_BatchSize(t *testing.T) {
	h := newHarness(t)
	sub := newSubscriber(t, http.StatusServiceUnavailable, h.clock)
	seedRetrying(t, h, sub.URL, 5)

	sweeper := webhook.NewSweeper(h.store, h.executor, webhook.SweeperConfig{BatchSize: 2, RatePerSecond: 1000}, discardLogger(),
		webhook.WithSweeperClock(h.clock.Now),
	)

	h.clock.Advance(time.Minute)
	n, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := sweeper.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSweeper_ConcurrentSweepersAttemptOnce(t *testing.T) {
	h := newHarness(t)
	sub := newSubscriber(t, http.StatusOK, h.clock)
	sub.setStatus(http.StatusInternalServerError)
	seedRetrying(t, h, sub.URL, 10)
	sub.setStatus(http.StatusOK)

	h.clock.Advance(time.Minute)

	sweepers := make([]*webhook.Sweeper, 4)
	for i := range sweepers {
		sweepers[i] = webhook.NewSweeper(h.store, h.executor, webhook.SweeperConfig{BatchSize: 3, RatePerSecond: 1000}, discardLogger(),
			webhook.WithSweeperClock(h.clock.Now),
		)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for _, s := range sweepers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Drain(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, total)
	assert.Len(t, sub.received(), 20)
}

func TestSweeper_Schedule(t *testing.T) {
	h := newHarness(t)
	c := webhook.NewCron(discardLogger())

	id, err := h.sweeper.Schedule(context.Background(), c, "@every 15s")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = h.sweeper.Schedule(context.Background(), c, "not a schedule")
	assert.Error(t, err)
}

// crashingStore keeps the in-flight marker write and then loses the outcome
// write, the way a worker killed mid-request would.
type crashingStore struct {
	*repository.MemoryStore

	mu     sync.Mutex
	writes int
}

func (s *crashingStore) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	s.mu.Lock()
	s.writes++
	n := s.writes
	s.mu.Unlock()

	if n%2 == 0 {
		return errors.New("worker terminated")
	}
	return s.MemoryStore.UpdateDelivery(ctx, d)
}

func TestSweeper_RecoversInterruptedAttempt(t *testing.T) {
	h := newHarness(t)
	sub := newSubscriber(t, http.StatusOK, h.clock)
	w := h.createWebhook(t, sub.URL, webhook.EventInvoicePaid)
	d := newPendingDelivery(t, h, w)

	crashing := &crashingStore{MemoryStore: h.store}
	executor := webhook.NewExecutor(h.store, crashing, webhook.NewRetryScheduler(), discardLogger(),
		webhook.WithClock(h.clock.Now),
		webhook.WithInFlightLease(time.Minute),
	)
	require.Error(t, executor.Attempt(context.Background(), w, d))
	require.Len(t, sub.received(), 1)

	stored := h.delivery(t, d.ID)
	assert.Equal(t, webhook.DeliveryRetrying, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	n, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Minute + time.Second)
	n, err = h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored = h.delivery(t, d.ID)
	assert.Equal(t, webhook.DeliverySuccess, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Len(t, sub.received(), 2)
}

func TestSweeper_FailsInterruptedFinalAttempt(t *testing.T) {
	h := newHarness(t)
	sub := newSubscriber(t, http.StatusOK, h.clock)
	w := h.createWebhook(t, sub.URL, webhook.EventInvoicePaid)
	d := newPendingDelivery(t, h, w)

	d.Status = webhook.DeliveryRetrying
	d.Attempts = webhook.NewRetryScheduler().MaxAttempts() - 1
	d.NextRetryAt = ptrTime(h.clock.Now())
	require.NoError(t, h.store.UpdateDelivery(context.Background(), d))

	crashing := &crashingStore{MemoryStore: h.store}
	executor := webhook.NewExecutor(h.store, crashing, webhook.NewRetryScheduler(), discardLogger(),
		webhook.WithClock(h.clock.Now),
		webhook.WithInFlightLease(time.Minute),
	)
	require.Error(t, executor.Attempt(context.Background(), w, d))

	h.clock.Advance(2 * time.Minute)
	n, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := h.delivery(t, d.ID)
	assert.Equal(t, webhook.DeliveryFailed, stored.Status)
	assert.Equal(t, webhook.NewRetryScheduler().MaxAttempts(), stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, webhook.InterruptedAttemptMessage, *stored.ErrorMessage)
	assert.Len(t, sub.received(), 1)
}

func ptrTime(t time.Time) *time.Time { return &t }
