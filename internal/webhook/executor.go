package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

const (
	DefaultAttemptTimeout = 10 * time.Second

	userAgent = "HookRelay-Webhook/1.0"

	// responses are read up to this many bytes before truncation
	maxResponseRead = 64 << 10
)

const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
)

// Executor performs one signed HTTP attempt for a delivery and applies the
// RetryScheduler's decision.
type Executor struct {
	webhooks   WebhookStore
	deliveries DeliveryStore
	scheduler  *RetryScheduler
	client     *http.Client
	audit      audit.Logger
	metrics    MetricsRecorder
	logger     *slog.Logger
	timeout    time.Duration
	lease      time.Duration
	now        func() time.Time
}

type ExecutorOption func(*Executor)

func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.client = client
	}
}

func WithAttemptTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithInFlightLease sets how long an in-flight attempt keeps its delivery
// hidden from the sweeper. It must outlast the attempt timeout.
func WithInFlightLease(lease time.Duration) ExecutorOption {
	return func(e *Executor) {
		if lease > 0 {
			e.lease = lease
		}
	}
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithAuditLogger(l audit.Logger) ExecutorOption {
	return func(e *Executor) {
		e.audit = l
	}
}

func NewExecutor(webhooks WebhookStore, deliveries DeliveryStore, scheduler *RetryScheduler, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		webhooks:   webhooks,
		deliveries: deliveries,
		scheduler:  scheduler,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		audit:   &audit.NoOpLogger{},
		metrics: noopMetrics{},
		logger:  logger,
		timeout: DefaultAttemptTimeout,
		lease:   DefaultClaimLease,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Scheduler() *RetryScheduler {
	return e.scheduler
}

type attemptResult struct {
	statusCode *int
	body       *string
	err        error
}

// Attempt sends d to w once and persists the outcome on both records.
// Subscriber failures never surface as errors; only persistence problems do.
func (e *Executor) Attempt(ctx context.Context, w *Webhook, d *Delivery) error {
	if d.Status.Terminal() {
		return ErrDeliveryTerminal
	}

	started := e.now()

	// The in-flight marker is stored before the POST: if this process dies
	// mid-attempt the sweeper picks the delivery up once the lease expires.
	prev := *d
	d.Attempts++
	d.Status = DeliveryRetrying
	d.NextRetryAt = ptr(started.Add(e.lease))
	if err := e.deliveries.UpdateDelivery(ctx, d); err != nil {
		*d = prev
		return fmt.Errorf("mark delivery %s in flight: %w", d.ID, err)
	}

	res := e.send(ctx, w, d)
	now := e.now()

	d.ResponseStatus = res.statusCode
	d.ResponseBody = res.body

	if res.err == nil {
		return e.succeed(ctx, w, d, now, now.Sub(started))
	}
	return e.fail(ctx, w, d, res.err, now, now.Sub(started))
}

func (e *Executor) succeed(ctx context.Context, w *Webhook, d *Delivery, now time.Time, elapsed time.Duration) error {
	d.Status = DeliverySuccess
	d.DeliveredAt = ptr(now)
	d.NextRetryAt = nil
	d.ErrorMessage = nil
	w.SuccessCount++
	w.LastSuccessAt = ptr(now)

	e.metrics.ObserveAttempt(string(d.Event), outcomeSuccess, elapsed)
	e.logger.Info("webhook delivered",
		"delivery_id", d.ID,
		"webhook_id", w.ID,
		"event", d.Event,
		"attempts", d.Attempts,
		"status_code", derefInt(d.ResponseStatus),
	)

	if err := e.deliveries.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("persist delivery %s: %w", d.ID, err)
	}

	counters, err := e.webhooks.RecordSuccess(ctx, w.ID, now)
	if err != nil {
		return fmt.Errorf("record success for webhook %s: %w", w.ID, err)
	}
	applyCounters(w, counters)
	return nil
}

func (e *Executor) fail(ctx context.Context, w *Webhook, d *Delivery, cause error, now time.Time, elapsed time.Duration) error {
	d.ErrorMessage = ptr(truncate(cause.Error(), MaxResponseBodyLength))

	decision := e.scheduler.HandleFailure(w, d, now)

	outcome := outcomeFailed
	if decision.Retry {
		outcome = outcomeRetry
	}
	e.metrics.ObserveAttempt(string(d.Event), outcome, elapsed)

	if decision.Retry {
		e.logger.Warn("webhook delivery failed, retry scheduled",
			"delivery_id", d.ID,
			"webhook_id", w.ID,
			"event", d.Event,
			"attempts", d.Attempts,
			"next_retry_at", decision.NextRetryAt,
			"error", cause,
		)
	} else {
		e.logger.Error("webhook delivery failed permanently",
			"delivery_id", d.ID,
			"webhook_id", w.ID,
			"event", d.Event,
			"attempts", d.Attempts,
			"error", cause,
		)
	}

	if err := e.deliveries.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("persist delivery %s: %w", d.ID, err)
	}

	// The in-memory counters only reflect this attempt; the store's atomic
	// increment is authoritative under concurrent failures.
	counters, err := e.webhooks.RecordFailure(ctx, w.ID, now)
	if err != nil {
		return fmt.Errorf("record failure for webhook %s: %w", w.ID, err)
	}
	applyCounters(w, counters)

	if !e.scheduler.ShouldSuspend(w) {
		return nil
	}
	return e.suspend(ctx, w)
}

func (e *Executor) suspend(ctx context.Context, w *Webhook) error {
	suspended, err := e.webhooks.Suspend(ctx, w.ID, e.scheduler.SuspensionThreshold())
	if err != nil {
		return fmt.Errorf("suspend webhook %s: %w", w.ID, err)
	}
	if !suspended {
		return nil
	}

	w.Status = StatusSuspended
	e.metrics.WebhookSuspended()
	e.logger.Warn("webhook suspended after repeated failures",
		"webhook_id", w.ID,
		"tenant_id", w.TenantID,
		"failure_count", w.FailureCount,
	)
	_ = e.audit.Log(ctx, audit.Event{
		TenantID:  w.TenantID,
		WebhookID: w.ID,
		EventType: audit.EventWebhookSuspended,
		Success:   true,
		Metadata: map[string]string{
			"failure_count": strconv.FormatInt(w.FailureCount, 10),
			"url":           w.URL,
		},
	})
	return nil
}

func (e *Executor) send(ctx context.Context, w *Webhook, d *Delivery) attemptResult {
	if w.Secret == "" {
		return attemptResult{err: domain.ErrConfiguration}
	}
	signature := Sign(w.Secret, d.Payload)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return attemptResult{err: &TransportError{Err: err}}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, string(d.Event))
	req.Header.Set(HeaderDeliveryID, d.ID.String())

	resp, err := e.client.Do(req)
	if err != nil {
		return attemptResult{err: &TransportError{Err: err}}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	res := attemptResult{statusCode: ptr(resp.StatusCode)}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	if err != nil && !errors.Is(err, io.EOF) {
		e.logger.Debug("failed to read subscriber response", "delivery_id", d.ID, "error", err)
	}
	res.body = ptr(truncate(string(raw), MaxResponseBodyLength))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.err = &ProtocolError{StatusCode: resp.StatusCode}
	}
	return res
}

func applyCounters(w *Webhook, c Counters) {
	w.SuccessCount = c.SuccessCount
	w.FailureCount = c.FailureCount
	if c.Status != "" {
		w.Status = c.Status
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
