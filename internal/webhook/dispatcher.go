package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

const (
	DefaultDispatchConcurrency = 8

	// DefaultClaimLease is how long a claimed delivery is hidden from other
	// workers before it becomes eligible again.
	DefaultClaimLease = time.Minute
)

// Enqueuer hands a created delivery to an asynchronous consumer.
type Enqueuer interface {
	Enqueue(ctx context.Context, deliveryID uuid.UUID) error
}

// Dispatcher fans a business event out to every subscribed webhook.
type Dispatcher struct {
	webhooks    WebhookStore
	deliveries  DeliveryStore
	executor    *Executor
	queue       Enqueuer
	concurrency int
	lease       time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithQueue switches the dispatcher to queue mode: deliveries are created
// PENDING and handed to q instead of being attempted inline.
func WithQueue(q Enqueuer) DispatcherOption {
	return func(d *Dispatcher) {
		d.queue = q
	}
}

func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithClaimLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(webhooks WebhookStore, deliveries DeliveryStore, executor *Executor, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		webhooks:    webhooks,
		deliveries:  deliveries,
		executor:    executor,
		concurrency: DefaultDispatchConcurrency,
		lease:       DefaultClaimLease,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TriggerEvent creates one delivery per ACTIVE webhook of tenantID that
// subscribes to event and runs (or enqueues) its first attempt. Subscriber
// failures are absorbed; only a failed subscriber lookup is returned.
func (d *Dispatcher) TriggerEvent(ctx context.Context, tenantID uuid.UUID, event Event, data any) ([]*Delivery, error) {
	if !event.Valid() {
		return nil, domain.ErrInvalidEvents.WithMessage(fmt.Sprintf("Unknown event %q", event))
	}

	webhooks, err := d.webhooks.ListActiveByEvent(ctx, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	if len(webhooks) == 0 {
		return nil, nil
	}

	now := d.now().UTC()
	payload, err := Canonicalize(Envelope{
		Event:     event,
		Timestamp: now,
		Data:      data,
		TenantID:  tenantID,
	})
	if err != nil {
		return nil, domain.ErrBadRequest.WithError(err)
	}

	// attempts outlive the producer's request
	ctx = context.WithoutCancel(ctx)

	created := make([]*Delivery, 0, len(webhooks))
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, w := range webhooks {
		del, err := d.createDelivery(ctx, w, event, payload, now)
		if err != nil {
			d.logger.Error("failed to create delivery",
				"webhook_id", w.ID,
				"tenant_id", tenantID,
				"event", event,
				"error", err,
			)
			continue
		}
		created = append(created, del)

		if d.queue != nil && d.enqueue(ctx, del) {
			continue
		}

		g.Go(func() error {
			d.attempt(ctx, w, del)
			return nil
		})
	}

	_ = g.Wait()

	d.logger.Debug("event dispatched",
		"tenant_id", tenantID,
		"event", event,
		"subscribers", len(webhooks),
		"deliveries", len(created),
	)

	return created, nil
}

// TriggerWebhook sends a test delivery to one webhook regardless of its
// subscriptions. The attempt always runs inline so the caller sees the
// outcome.
func (d *Dispatcher) TriggerWebhook(ctx context.Context, tenantID, webhookID uuid.UUID, event Event, data any) (*Delivery, error) {
	if !event.Valid() {
		return nil, domain.ErrInvalidEvents.WithMessage(fmt.Sprintf("Unknown event %q", event))
	}

	w, err := d.webhooks.GetWebhook(ctx, tenantID, webhookID)
	if err != nil {
		return nil, err
	}
	if w.Status == StatusSuspended {
		return nil, domain.ErrWebhookSuspended
	}

	now := d.now().UTC()
	payload, err := Canonicalize(Envelope{
		Event:     event,
		Timestamp: now,
		Data:      data,
		TenantID:  tenantID,
	})
	if err != nil {
		return nil, domain.ErrBadRequest.WithError(err)
	}

	ctx = context.WithoutCancel(ctx)

	del, err := d.createDelivery(ctx, w, event, payload, now)
	if err != nil {
		return nil, err
	}

	d.attempt(ctx, w, del)
	return del, nil
}

// Redeliver copies a terminal delivery's payload into a new PENDING
// delivery for the same webhook. The original is never modified.
func (d *Dispatcher) Redeliver(ctx context.Context, tenantID, deliveryID uuid.UUID) (*Delivery, error) {
	orig, err := d.deliveries.GetDelivery(ctx, tenantID, deliveryID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Terminal() {
		return nil, domain.ErrDeliveryNotTerminal
	}

	w, err := d.webhooks.GetWebhook(ctx, tenantID, orig.WebhookID)
	if err != nil {
		return nil, err
	}
	if w.Status == StatusSuspended {
		return nil, domain.ErrWebhookSuspended
	}

	ctx = context.WithoutCancel(ctx)

	del, err := d.createDelivery(ctx, w, orig.Event, orig.Payload, d.now().UTC())
	if err != nil {
		return nil, err
	}

	d.logger.Info("delivery redelivered",
		"original_delivery_id", orig.ID,
		"delivery_id", del.ID,
		"webhook_id", w.ID,
	)

	if d.queue != nil && d.enqueue(ctx, del) {
		return del, nil
	}
	d.attempt(ctx, w, del)
	return del, nil
}

// ProcessQueued claims and attempts a delivery handed over by the queue.
// Deliveries already attempted or whose webhook is no longer ACTIVE are
// skipped. A claim still held elsewhere returns ErrDeliveryLeased so the
// queue keeps the id.
func (d *Dispatcher) ProcessQueued(ctx context.Context, deliveryID uuid.UUID) error {
	claim, err := d.deliveries.ClaimPending(ctx, deliveryID, d.now().UTC(), d.lease)
	if err != nil {
		return fmt.Errorf("claim delivery %s: %w", deliveryID, err)
	}
	if claim == nil {
		d.logger.Debug("queued delivery not claimable, skipping", "delivery_id", deliveryID)
		return nil
	}

	return d.executor.Attempt(ctx, claim.Webhook, claim.Delivery)
}

func (d *Dispatcher) createDelivery(ctx context.Context, w *Webhook, event Event, payload []byte, now time.Time) (*Delivery, error) {
	del := &Delivery{
		ID:        uuid.New(),
		WebhookID: w.ID,
		TenantID:  w.TenantID,
		Event:     event,
		Payload:   payload,
		Status:    DeliveryPending,
		CreatedAt: now,
	}
	if err := d.deliveries.CreateDelivery(ctx, del); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	if err := d.webhooks.TouchTriggered(ctx, w.ID, now); err != nil {
		d.logger.Warn("failed to update last triggered", "webhook_id", w.ID, "error", err)
	} else {
		w.LastTriggeredAt = ptr(now)
	}

	return del, nil
}

// enqueue reports whether the delivery was handed to the queue. On failure
// the caller attempts inline so nothing is stranded PENDING.
func (d *Dispatcher) enqueue(ctx context.Context, del *Delivery) bool {
	if err := d.queue.Enqueue(ctx, del.ID); err != nil {
		d.logger.Warn("enqueue failed, attempting inline",
			"delivery_id", del.ID,
			"webhook_id", del.WebhookID,
			"error", err,
		)
		return false
	}
	return true
}

func (d *Dispatcher) attempt(ctx context.Context, w *Webhook, del *Delivery) {
	if err := d.executor.Attempt(ctx, w, del); err != nil {
		d.logger.Error("delivery attempt not persisted",
			"delivery_id", del.ID,
			"webhook_id", w.ID,
			"error", err,
		)
	}
}
