package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

// CreateInput is the caller-supplied part of a new webhook.
type CreateInput struct {
	URL         string  `json:"url"`
	Events      []Event `json:"events"`
	Description string  `json:"description,omitempty"`
}

// Registry manages tenant webhook subscriptions and their secrets.
type Registry struct {
	store  WebhookStore
	audit  audit.Logger
	logger *slog.Logger
	now    func() time.Time
	grace  time.Duration
}

type RegistryOption func(*Registry)

func WithRegistryAudit(l audit.Logger) RegistryOption {
	return func(r *Registry) {
		r.audit = l
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithSecretGracePeriod sets how long a rotated-out secret stays valid for
// receivers. Responses carry the end of that window.
func WithSecretGracePeriod(grace time.Duration) RegistryOption {
	return func(r *Registry) {
		r.grace = grace
	}
}

func NewRegistry(store WebhookStore, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		audit:  &audit.NoOpLogger{},
		logger: logger,
		now:    time.Now,
		grace:  DefaultSecretGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*Webhook, error) {
	target, err := NormalizeURL(in.URL)
	if err != nil {
		return nil, err
	}
	events, err := NormalizeEvents(in.Events)
	if err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, domain.ErrInternal.WithError(err)
	}

	w := &Webhook{
		ID:          uuid.New(),
		TenantID:    tenantID,
		URL:         target,
		Events:      events,
		Secret:      secret,
		Description: strings.TrimSpace(in.Description),
		Status:      StatusActive,
	}

	if err := r.store.CreateWebhook(ctx, w); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}

	r.logger.Info("webhook created", "webhook_id", w.ID, "tenant_id", tenantID, "events", len(events))
	r.record(ctx, w, audit.EventWebhookCreated, map[string]string{"url": w.URL})

	return w, nil
}

func (r *Registry) List(ctx context.Context, tenantID uuid.UUID) ([]*Webhook, error) {
	webhooks, err := r.store.ListWebhooks(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	for _, w := range webhooks {
		w.applyGrace(now, r.grace)
	}
	return webhooks, nil
}

func (r *Registry) Get(ctx context.Context, tenantID, id uuid.UUID) (*Webhook, error) {
	w, err := r.store.GetWebhook(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	w.applyGrace(r.now(), r.grace)
	return w, nil
}

// Update applies patch to the tenant's webhook. Only the fields the patch
// carries are written; a suspended webhook keeps its status until Reactivate
// is called, and SUSPENDED can never be set here.
func (r *Registry) Update(ctx context.Context, tenantID, id uuid.UUID, patch Patch) (*Webhook, error) {
	var clean Patch
	changed := make(map[string]string)

	if patch.URL != nil {
		target, err := NormalizeURL(*patch.URL)
		if err != nil {
			return nil, err
		}
		clean.URL = &target
		changed["url"] = target
	}
	if patch.Events != nil {
		events, err := NormalizeEvents(*patch.Events)
		if err != nil {
			return nil, err
		}
		clean.Events = &events
		changed["events"] = joinEvents(events)
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		clean.Description = &description
		changed["description"] = "updated"
	}
	if patch.Status != nil {
		switch *patch.Status {
		case StatusActive, StatusInactive:
		default:
			return nil, domain.ErrValidationFailed.WithMessage("status must be active or inactive")
		}
		status := *patch.Status
		clean.Status = &status
		changed["status"] = string(status)
	}

	w, err := r.store.UpdateWebhook(ctx, tenantID, id, clean)
	if err != nil {
		return nil, err
	}
	w.applyGrace(r.now(), r.grace)

	r.logger.Info("webhook updated", "webhook_id", w.ID, "tenant_id", tenantID)
	r.record(ctx, w, audit.EventWebhookUpdated, changed)

	return w, nil
}

func (r *Registry) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := r.store.DeleteWebhook(ctx, tenantID, id); err != nil {
		return err
	}

	r.logger.Info("webhook deleted", "webhook_id", id, "tenant_id", tenantID)
	r.record(ctx, &Webhook{ID: id, TenantID: tenantID}, audit.EventWebhookDeleted, nil)
	return nil
}

// RegenerateSecret replaces the signing secret. The returned webhook is the
// only place the new secret is exposed to the caller.
func (r *Registry) RegenerateSecret(ctx context.Context, tenantID, id uuid.UUID) (*Webhook, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, domain.ErrInternal.WithError(err)
	}

	now := r.now().UTC()
	w, err := r.store.RotateSecret(ctx, tenantID, id, secret, now)
	if err != nil {
		return nil, err
	}
	w.applyGrace(now, r.grace)

	r.logger.Info("webhook secret rotated", "webhook_id", id, "tenant_id", tenantID)
	r.record(ctx, w, audit.EventWebhookSecretRotated, nil)

	return w, nil
}

// Reactivate is the operator path out of SUSPENDED: status goes back to
// ACTIVE and both counters restart from zero.
func (r *Registry) Reactivate(ctx context.Context, tenantID, id uuid.UUID) (*Webhook, error) {
	before, err := r.store.GetWebhook(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	w, err := r.store.Reactivate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	w.applyGrace(r.now(), r.grace)

	r.logger.Info("webhook reactivated",
		"webhook_id", id,
		"tenant_id", tenantID,
		"previous_status", before.Status,
	)
	r.record(ctx, w, audit.EventWebhookReactivated, map[string]string{
		"previous_status":        string(before.Status),
		"previous_failure_count": fmt.Sprint(before.FailureCount),
	})

	return w, nil
}

func (r *Registry) record(ctx context.Context, w *Webhook, eventType audit.EventType, metadata map[string]string) {
	if len(metadata) == 0 {
		metadata = nil
	}
	if err := r.audit.Log(ctx, audit.Event{
		TenantID:  w.TenantID,
		WebhookID: w.ID,
		EventType: eventType,
		Success:   true,
		Metadata:  metadata,
	}); err != nil {
		r.logger.Warn("failed to write audit event", "event_type", eventType, "error", err)
	}
}

// NormalizeURL trims surrounding whitespace and validates the result. The
// returned value is the one to store and deliver to.
func NormalizeURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if err := ValidateURL(target); err != nil {
		return "", err
	}
	return target, nil
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return domain.ErrInvalidWebhookURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.ErrInvalidWebhookURL
	}
	if u.Host == "" || u.Hostname() == "" {
		return domain.ErrInvalidWebhookURL
	}
	return nil
}

// NormalizeEvents rejects empty or unknown event sets and collapses
// duplicates, keeping first-seen order.
func NormalizeEvents(events []Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, domain.ErrInvalidEvents.WithMessage("At least one event is required")
	}

	seen := make(map[Event]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if !e.Valid() {
			return nil, domain.ErrInvalidEvents.WithMessage(fmt.Sprintf("Unknown event %q", e))
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

func joinEvents(events []Event) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = string(e)
	}
	return strings.Join(parts, ",")
}
