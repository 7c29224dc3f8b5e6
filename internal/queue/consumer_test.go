package queue_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/queue"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/repository"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()

	mr := miniredis.RunT(t)
	q := queue.NewRedisQueueFromClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		queue.WithBlockTimeout(50*time.Millisecond),
	)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

type recordingProcessor struct {
	mu      sync.Mutex
	seen    []uuid.UUID
	failing map[uuid.UUID]int
	leased  map[uuid.UUID]int
}

func (p *recordingProcessor) ProcessQueued(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen = append(p.seen, id)
	if p.failing[id] > 0 {
		p.failing[id]--
		return errors.New("database unavailable")
	}
	if p.leased[id] > 0 {
		p.leased[id]--
		return fmt.Errorf("claim delivery %s: %w", id, webhook.ErrDeliveryLeased)
	}
	return nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func runConsumer(t *testing.T, c *queue.Consumer) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestConsumer_ProcessesEveryID(t *testing.T) {
	q := newQueue(t)
	p := &recordingProcessor{}

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), uuid.New()))
	}

	runConsumer(t, queue.NewConsumer(q, p, 3, discardLogger()))

	require.Eventually(t, func() bool { return p.count() == 10 }, 5*time.Second, 10*time.Millisecond)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConsumer_RequeuesOnError(t *testing.T) {
	q := newQueue(t)
	id := uuid.New()
	p := &recordingProcessor{failing: map[uuid.UUID]int{id: 1}}

	require.NoError(t, q.Enqueue(context.Background(), id))

	runConsumer(t, queue.NewConsumer(q, p, 1, discardLogger()))

	require.Eventually(t, func() bool { return p.count() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestConsumer_KeepsLeasedDeliveryQueued(t *testing.T) {
	q := newQueue(t)
	id := uuid.New()
	p := &recordingProcessor{leased: map[uuid.UUID]int{id: 1}}

	require.NoError(t, q.Enqueue(context.Background(), id))

	runConsumer(t, queue.NewConsumer(q, p, 1, discardLogger()))

	require.Eventually(t, func() bool { return p.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConsumer_DeliversThroughDispatcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := repository.NewMemoryStore()
	logger := discardLogger()
	executor := webhook.NewExecutor(store, store, webhook.NewRetryScheduler(), logger)
	q := newQueue(t)
	dispatcher := webhook.NewDispatcher(store, store, executor, logger, webhook.WithQueue(q))
	registry := webhook.NewRegistry(store, logger)

	tenantID := uuid.New()
	w, err := registry.Create(context.Background(), tenantID, webhook.CreateInput{
		URL:    srv.URL,
		Events: []webhook.Event{webhook.EventPaymentReceived},
	})
	require.NoError(t, err)

	deliveries, err := dispatcher.TriggerEvent(context.Background(), tenantID, webhook.EventPaymentReceived, map[string]string{"paymentId": "p1"})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhook.DeliveryPending, deliveries[0].Status)

	runConsumer(t, queue.NewConsumer(q, dispatcher, 2, logger))

	require.Eventually(t, func() bool {
		d, err := store.GetDelivery(context.Background(), tenantID, deliveries[0].ID)
		return err == nil && d.Status == webhook.DeliverySuccess
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), hits.Load())
	got, err := store.GetWebhook(context.Background(), tenantID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.SuccessCount)
}
