package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDeliveryTerminal is returned by DeliveryStore.UpdateDelivery when the
// stored delivery already reached SUCCESS or FAILED.
var ErrDeliveryTerminal = errors.New("delivery already in a terminal state")

// InterruptedAttemptMessage is recorded on deliveries closed out by
// FailInterrupted when no earlier error message exists.
const InterruptedAttemptMessage = "attempt interrupted before its outcome was recorded"

// ErrDeliveryLeased is returned by DeliveryStore.ClaimPending when the
// delivery is still eligible but another worker's claim has not expired.
var ErrDeliveryLeased = errors.New("delivery claim still held by another worker")

// WebhookStore persists webhook subscriptions. Counter mutations must be
// atomic at the storage layer.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w *Webhook) error
	ListWebhooks(ctx context.Context, tenantID uuid.UUID) ([]*Webhook, error)
	GetWebhook(ctx context.Context, tenantID, id uuid.UUID) (*Webhook, error)
	// UpdateWebhook applies the non-nil fields of patch atomically. A status
	// change on a SUSPENDED webhook fails with domain.ErrWebhookSuspended.
	UpdateWebhook(ctx context.Context, tenantID, id uuid.UUID, patch Patch) (*Webhook, error)
	DeleteWebhook(ctx context.Context, tenantID, id uuid.UUID) error
	RotateSecret(ctx context.Context, tenantID, id uuid.UUID, secret string, at time.Time) (*Webhook, error)
	Reactivate(ctx context.Context, tenantID, id uuid.UUID) (*Webhook, error)

	ListActiveByEvent(ctx context.Context, tenantID uuid.UUID, event Event) ([]*Webhook, error)
	TouchTriggered(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) (Counters, error)
	RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) (Counters, error)
	// Suspend moves an ACTIVE webhook to SUSPENDED only while it still has
	// zero successes and more than threshold failures. It reports whether
	// the transition happened.
	Suspend(ctx context.Context, id uuid.UUID, threshold int64) (bool, error)
}

// DeliveryStore persists deliveries and hands out exclusive claims.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, tenantID, id uuid.UUID) (*Delivery, error)
	ListDeliveries(ctx context.Context, tenantID, webhookID uuid.UUID, limit, offset int) ([]*Delivery, int, error)

	// ClaimDue atomically selects RETRYING deliveries with next_retry_at <= now
	// and attempts < maxAttempts whose webhook is ACTIVE, pushing
	// next_retry_at to now+lease so no other sweeper picks them up.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, maxAttempts, limit int) ([]Claim, error)
	// ClaimPending atomically claims a queued PENDING delivery with zero
	// attempts whose webhook is ACTIVE. It returns ErrDeliveryLeased while
	// another claim is live, and a nil claim when the delivery is no longer
	// eligible at all.
	ClaimPending(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (*Claim, error)
	// FailInterrupted moves RETRYING deliveries that already used
	// maxAttempts and whose in-flight lease expired to FAILED. Such rows are
	// left behind by an attempt that never recorded its outcome.
	FailInterrupted(ctx context.Context, now time.Time, maxAttempts int) (int, error)
}

// MetricsRecorder receives delivery engine observations.
type MetricsRecorder interface {
	ObserveAttempt(event string, outcome string, elapsed time.Duration)
	WebhookSuspended()
	SweepClaimed(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(string, string, time.Duration) {}
func (noopMetrics) WebhookSuspended()                            {}
func (noopMetrics) SweepClaimed(int)                             {}
