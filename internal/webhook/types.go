package webhook

import (
	"encoding/json"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Event is a business event a webhook can subscribe to.
type Event string

const (
	EventInvoiceCreated   Event = "invoice.created"
	EventInvoiceUpdated   Event = "invoice.updated"
	EventInvoiceSent      Event = "invoice.sent"
	EventInvoiceViewed    Event = "invoice.viewed"
	EventInvoicePaid      Event = "invoice.paid"
	EventInvoiceOverdue   Event = "invoice.overdue"
	EventInvoiceCancelled Event = "invoice.cancelled"
	EventCustomerCreated  Event = "customer.created"
	EventCustomerUpdated  Event = "customer.updated"
	EventPaymentReceived  Event = "payment.received"
	EventPaymentFailed    Event = "payment.failed"
)

var knownEvents = []Event{
	EventInvoiceCreated,
	EventInvoiceUpdated,
	EventInvoiceSent,
	EventInvoiceViewed,
	EventInvoicePaid,
	EventInvoiceOverdue,
	EventInvoiceCancelled,
	EventCustomerCreated,
	EventCustomerUpdated,
	EventPaymentReceived,
	EventPaymentFailed,
}

// AllEvents returns the closed event vocabulary.
func AllEvents() []Event {
	return slices.Clone(knownEvents)
}

func (e Event) Valid() bool {
	return slices.Contains(knownEvents, e)
}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

const (
	// MaxResponseBodyLength is the number of characters of a subscriber
	// response kept on the delivery record.
	MaxResponseBodyLength = 1000

	// DefaultSecretGracePeriod is how long a rotated-out secret is still
	// accepted by receivers.
	DefaultSecretGracePeriod = 24 * time.Hour

	secretBytes = 32
)

type Webhook struct {
	ID                       uuid.UUID  `json:"id"`
	TenantID                 uuid.UUID  `json:"tenant_id"`
	URL                      string     `json:"url"`
	Events                   []Event    `json:"events"`
	Secret                   string     `json:"-"`
	PreviousSecret           string     `json:"-"`
	SecretRotatedAt          *time.Time `json:"secret_rotated_at,omitempty"`
	// PreviousSecretValidUntil is derived at read time, never stored.
	PreviousSecretValidUntil *time.Time `json:"previous_secret_valid_until,omitempty"`
	Description              string     `json:"description,omitempty"`
	Status                   Status     `json:"status"`
	SuccessCount             int64      `json:"success_count"`
	FailureCount             int64      `json:"failure_count"`
	LastTriggeredAt          *time.Time `json:"last_triggered_at,omitempty"`
	LastSuccessAt            *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt            *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func (w *Webhook) Subscribes(event Event) bool {
	return slices.Contains(w.Events, event)
}

// VerificationSecrets lists the secrets a receiver should accept at now:
// the current secret, plus the previous one while still inside grace.
func (w *Webhook) VerificationSecrets(now time.Time, grace time.Duration) []string {
	secrets := []string{w.Secret}
	if w.PreviousSecret == "" || w.SecretRotatedAt == nil {
		return secrets
	}
	if now.Before(w.SecretRotatedAt.Add(grace)) {
		secrets = append(secrets, w.PreviousSecret)
	}
	return secrets
}

// applyGrace sets PreviousSecretValidUntil when the previous secret is still
// accepted at now, and clears it otherwise.
func (w *Webhook) applyGrace(now time.Time, grace time.Duration) {
	w.PreviousSecretValidUntil = nil
	if len(w.VerificationSecrets(now, grace)) > 1 {
		until := w.SecretRotatedAt.Add(grace)
		w.PreviousSecretValidUntil = &until
	}
}

// Counters is the post-update view of a webhook's aggregate counters as
// returned by the store's atomic increments.
type Counters struct {
	SuccessCount int64
	FailureCount int64
	Status       Status
}

// Patch carries the caller-driven changes to a webhook. Nil fields are
// left untouched.
type Patch struct {
	URL         *string  `json:"url,omitempty"`
	Events      *[]Event `json:"events,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *Status  `json:"status,omitempty"`
}

type Delivery struct {
	ID             uuid.UUID       `json:"id"`
	WebhookID      uuid.UUID       `json:"webhook_id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Event          Event           `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Envelope is the JSON body POSTed to subscribers.
type Envelope struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	TenantID  uuid.UUID `json:"tenantId"`
}

// Claim pairs a delivery with the webhook it targets after a store claim.
type Claim struct {
	Webhook  *Webhook
	Delivery *Delivery
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func ptr[T any](v T) *T {
	return &v
}
