package repository

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

// MemoryStore keeps webhooks and deliveries in process memory. It honors
// the same atomicity contracts as the Postgres stores by serializing every
// operation behind one mutex.
type MemoryStore struct {
	mu         sync.Mutex
	webhooks   map[uuid.UUID]*webhook.Webhook
	deliveries map[uuid.UUID]*webhook.Delivery
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webhooks:   make(map[uuid.UUID]*webhook.Webhook),
		deliveries: make(map[uuid.UUID]*webhook.Delivery),
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateWebhook(_ context.Context, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := s.now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	s.webhooks[w.ID] = cloneWebhook(w)
	return nil
}

func (s *MemoryStore) ListWebhooks(_ context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*webhook.Webhook, 0)
	for _, w := range s.webhooks {
		if w.TenantID == tenantID {
			out = append(out, cloneWebhook(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *MemoryStore) GetWebhook(_ context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, domain.ErrWebhookNotFound
	}
	return cloneWebhook(w), nil
}

// UpdateWebhook applies the non-nil fields of patch. A status change is
// refused while the webhook is suspended; other fields still apply.
func (s *MemoryStore) UpdateWebhook(_ context.Context, tenantID, id uuid.UUID, patch webhook.Patch) (*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.webhooks[id]
	if !ok || stored.TenantID != tenantID {
		return nil, domain.ErrWebhookNotFound
	}
	if patch.Status != nil && stored.Status == webhook.StatusSuspended {
		return nil, domain.ErrWebhookSuspended
	}

	if patch.URL != nil {
		stored.URL = *patch.URL
	}
	if patch.Events != nil {
		stored.Events = slices.Clone(*patch.Events)
	}
	if patch.Description != nil {
		stored.Description = *patch.Description
	}
	if patch.Status != nil {
		stored.Status = *patch.Status
	}
	stored.UpdatedAt = s.now().UTC()
	return cloneWebhook(stored), nil
}

func (s *MemoryStore) DeleteWebhook(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)
	for did, d := range s.deliveries {
		if d.WebhookID == id {
			delete(s.deliveries, did)
		}
	}
	return nil
}

func (s *MemoryStore) RotateSecret(_ context.Context, tenantID, id uuid.UUID, secret string, at time.Time) (*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, domain.ErrWebhookNotFound
	}
	w.PreviousSecret = w.Secret
	w.Secret = secret
	w.SecretRotatedAt = &at
	w.UpdatedAt = at
	return cloneWebhook(w), nil
}

func (s *MemoryStore) Reactivate(_ context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, domain.ErrWebhookNotFound
	}
	w.Status = webhook.StatusActive
	w.SuccessCount = 0
	w.FailureCount = 0
	w.UpdatedAt = s.now().UTC()
	return cloneWebhook(w), nil
}

func (s *MemoryStore) ListActiveByEvent(_ context.Context, tenantID uuid.UUID, event webhook.Event) ([]*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*webhook.Webhook, 0)
	for _, w := range s.webhooks {
		if w.TenantID == tenantID && w.Status == webhook.StatusActive && w.Subscribes(event) {
			out = append(out, cloneWebhook(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) TouchTriggered(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	w.LastTriggeredAt = &at
	return nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, id uuid.UUID, at time.Time) (webhook.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return webhook.Counters{}, domain.ErrWebhookNotFound
	}
	w.SuccessCount++
	w.LastSuccessAt = &at
	return countersOf(w), nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, id uuid.UUID, at time.Time) (webhook.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return webhook.Counters{}, domain.ErrWebhookNotFound
	}
	w.FailureCount++
	w.LastFailureAt = &at
	return countersOf(w), nil
}

func (s *MemoryStore) Suspend(_ context.Context, id uuid.UUID, threshold int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return false, domain.ErrWebhookNotFound
	}
	if w.Status != webhook.StatusActive || w.SuccessCount != 0 || w.FailureCount <= threshold {
		return false, nil
	}
	w.Status = webhook.StatusSuspended
	w.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) CreateDelivery(_ context.Context, d *webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[d.WebhookID]; !ok {
		return domain.ErrWebhookNotFound
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	s.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (s *MemoryStore) UpdateDelivery(_ context.Context, d *webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.deliveries[d.ID]
	if !ok {
		return domain.ErrDeliveryNotFound
	}
	if stored.Status.Terminal() {
		return webhook.ErrDeliveryTerminal
	}
	s.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, tenantID, id uuid.UUID) (*webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok || d.TenantID != tenantID {
		return nil, domain.ErrDeliveryNotFound
	}
	return cloneDelivery(d), nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, tenantID, webhookID uuid.UUID, limit, offset int) ([]*webhook.Delivery, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*webhook.Delivery, 0)
	for _, d := range s.deliveries {
		if d.TenantID == tenantID && d.WebhookID == webhookID {
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return newestFirst(all[i].CreatedAt, all[j].CreatedAt, all[i].ID, all[j].ID)
	})

	total := len(all)
	if offset >= total {
		return []*webhook.Delivery{}, total, nil
	}
	end := min(offset+limit, total)

	page := make([]*webhook.Delivery, 0, end-offset)
	for _, d := range all[offset:end] {
		page = append(page, cloneDelivery(d))
	}
	return page, total, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, maxAttempts, limit int) ([]webhook.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*webhook.Delivery, 0)
	for _, d := range s.deliveries {
		if d.Status != webhook.DeliveryRetrying || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		if d.Attempts >= maxAttempts {
			continue
		}
		w, ok := s.webhooks[d.WebhookID]
		if !ok || w.Status != webhook.StatusActive {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claims := make([]webhook.Claim, 0, len(due))
	leased := now.Add(lease)
	for _, d := range due {
		d.NextRetryAt = &leased
		claims = append(claims, webhook.Claim{
			Webhook:  cloneWebhook(s.webhooks[d.WebhookID]),
			Delivery: cloneDelivery(d),
		})
	}
	return claims, nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, id uuid.UUID, now time.Time, lease time.Duration) (*webhook.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok || d.Status != webhook.DeliveryPending || d.Attempts != 0 {
		return nil, nil
	}
	w, ok := s.webhooks[d.WebhookID]
	if !ok || w.Status != webhook.StatusActive {
		return nil, nil
	}
	if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
		return nil, webhook.ErrDeliveryLeased
	}

	leased := now.Add(lease)
	d.NextRetryAt = &leased
	return &webhook.Claim{Webhook: cloneWebhook(w), Delivery: cloneDelivery(d)}, nil
}

func (s *MemoryStore) FailInterrupted(_ context.Context, now time.Time, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, d := range s.deliveries {
		if d.Status != webhook.DeliveryRetrying || d.Attempts < maxAttempts {
			continue
		}
		if d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		d.Status = webhook.DeliveryFailed
		d.NextRetryAt = nil
		if d.ErrorMessage == nil {
			msg := webhook.InterruptedAttemptMessage
			d.ErrorMessage = &msg
		}
		n++
	}
	return n, nil
}

func countersOf(w *webhook.Webhook) webhook.Counters {
	return webhook.Counters{
		SuccessCount: w.SuccessCount,
		FailureCount: w.FailureCount,
		Status:       w.Status,
	}
}

func cloneWebhook(w *webhook.Webhook) *webhook.Webhook {
	c := *w
	c.Events = slices.Clone(w.Events)
	c.SecretRotatedAt = clonePtr(w.SecretRotatedAt)
	c.LastTriggeredAt = clonePtr(w.LastTriggeredAt)
	c.LastSuccessAt = clonePtr(w.LastSuccessAt)
	c.LastFailureAt = clonePtr(w.LastFailureAt)
	return &c
}

func cloneDelivery(d *webhook.Delivery) *webhook.Delivery {
	c := *d
	c.Payload = slices.Clone(d.Payload)
	c.ResponseStatus = clonePtr(d.ResponseStatus)
	c.ResponseBody = clonePtr(d.ResponseBody)
	c.ErrorMessage = clonePtr(d.ErrorMessage)
	c.NextRetryAt = clonePtr(d.NextRetryAt)
	c.DeliveredAt = clonePtr(d.DeliveredAt)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// newestFirst orders like ORDER BY created_at DESC, id in Postgres.
func newestFirst(a, b time.Time, aID, bID uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return bytes.Compare(aID[:], bID[:]) < 0
}
