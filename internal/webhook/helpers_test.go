package webhook_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/repository"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	suspended int
	claimed   int
}

func (m *recordingMetrics) ObserveAttempt(_ string, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) WebhookSuspended() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended++
}

func (m *recordingMetrics) SweepClaimed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimed += n
}

// subscriber is an httptest endpoint that records every request it gets.
type subscriber struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
	clock    *fakeClock
}

type capturedRequest struct {
	at      time.Time
	header  http.Header
	body    []byte
	deliver string
}

func newSubscriber(t *testing.T, status int, clock *fakeClock) *subscriber {
	t.Helper()

	s := &subscriber{status: status, body: "ok", clock: clock}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		req := capturedRequest{
			header:  r.Header.Clone(),
			body:    body,
			deliver: r.Header.Get(webhook.HeaderDeliveryID),
		}
		if s.clock != nil {
			req.at = s.clock.Now()
		}
		s.requests = append(s.requests, req)
		status, respBody := s.status, s.body
		s.mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *subscriber) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *subscriber) received() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest(nil), s.requests...)
}

type harness struct {
	store      *repository.MemoryStore
	clock      *fakeClock
	audit      *recordingAudit
	metrics    *recordingMetrics
	executor   *webhook.Executor
	registry   *webhook.Registry
	dispatcher *webhook.Dispatcher
	sweeper    *webhook.Sweeper
	tenantID   uuid.UUID
}

func newHarness(t *testing.T, dispatcherOpts ...webhook.DispatcherOption) *harness {
	t.Helper()

	logger := discardLogger()
	h := &harness{
		store:    repository.NewMemoryStore(),
		clock:    newFakeClock(),
		audit:    &recordingAudit{},
		metrics:  &recordingMetrics{},
		tenantID: uuid.New(),
	}

	h.executor = webhook.NewExecutor(h.store, h.store, webhook.NewRetryScheduler(), logger,
		webhook.WithClock(h.clock.Now),
		webhook.WithAuditLogger(h.audit),
		webhook.WithMetrics(h.metrics),
		webhook.WithAttemptTimeout(2*time.Second),
	)
	h.registry = webhook.NewRegistry(h.store, logger,
		webhook.WithRegistryAudit(h.audit),
		webhook.WithRegistryClock(h.clock.Now),
	)
	opts := append([]webhook.DispatcherOption{webhook.WithDispatcherClock(h.clock.Now)}, dispatcherOpts...)
	h.dispatcher = webhook.NewDispatcher(h.store, h.store, h.executor, logger, opts...)
	h.sweeper = webhook.NewSweeper(h.store, h.executor, webhook.SweeperConfig{RatePerSecond: 1000}, logger,
		webhook.WithSweeperClock(h.clock.Now),
		webhook.WithSweeperMetrics(h.metrics),
	)
	return h
}

func (h *harness) createWebhook(t *testing.T, url string, events ...webhook.Event) *webhook.Webhook {
	t.Helper()

	w, err := h.registry.Create(context.Background(), h.tenantID, webhook.CreateInput{
		URL:    url,
		Events: events,
	})
	require.NoError(t, err)
	return w
}

func (h *harness) webhook(t *testing.T, id uuid.UUID) *webhook.Webhook {
	t.Helper()

	w, err := h.store.GetWebhook(context.Background(), h.tenantID, id)
	require.NoError(t, err)
	return w
}

func (h *harness) delivery(t *testing.T, id uuid.UUID) *webhook.Delivery {
	t.Helper()

	d, err := h.store.GetDelivery(context.Background(), h.tenantID, id)
	require.NoError(t, err)
	return d
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
