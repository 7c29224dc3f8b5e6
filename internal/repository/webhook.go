package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

const webhookColumns = `id, tenant_id, url, events, secret, previous_secret, secret_rotated_at, description, status,
		success_count, failure_count, last_triggered_at, last_success_at, last_failure_at, created_at, updated_at`

type WebhookRepository struct {
	pool PgxPool
}

func NewWebhookRepository(pool PgxPool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	query := `
		INSERT INTO webhooks (id, tenant_id, url, events, secret, description, status, success_count, failure_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		w.ID,
		w.TenantID,
		w.URL,
		eventStrings(w.Events),
		w.Secret,
		w.Description,
		string(w.Status),
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.AppError{
				Code:       "WEBHOOK_ALREADY_EXISTS",
				Message:    "Webhook with this id already exists",
				StatusCode: 409,
			}
		}
		return fmt.Errorf("create webhook: %w", err)
	}

	return nil
}

func (r *WebhookRepository) ListWebhooks(ctx context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id
	`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks, err := collectWebhooks(rows)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

func (r *WebhookRepository) GetWebhook(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE id = $1 AND tenant_id = $2
	`

	w, err := scanWebhook(r.pool.QueryRow(ctx, query, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

// UpdateWebhook applies the non-nil fields of patch in a single statement.
// Status is only written when the patch carries one, and never over a
// suspended row; counters and secrets have their own atomic statements.
func (r *WebhookRepository) UpdateWebhook(ctx context.Context, tenantID, id uuid.UUID, patch webhook.Patch) (*webhook.Webhook, error) {
	query := `
		UPDATE webhooks
		SET url = COALESCE($3::text, url),
			events = COALESCE($4::text[], events),
			description = COALESCE($5::text, description),
			status = COALESCE($6::text, status),
			updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND ($6::text IS NULL OR status <> 'suspended')
		RETURNING ` + webhookColumns

	var events []string
	if patch.Events != nil {
		events = eventStrings(*patch.Events)
	}
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	w, err := scanWebhook(r.pool.QueryRow(ctx, query, id, tenantID, patch.URL, events, patch.Description, status))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or a status change hit a suspended webhook.
		if _, getErr := r.GetWebhook(ctx, tenantID, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrWebhookSuspended
	}
	if err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	return w, nil
}

// DeleteWebhook removes the webhook; its deliveries go with it through the
// foreign key cascade.
func (r *WebhookRepository) DeleteWebhook(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		DELETE FROM webhooks
		WHERE id = $1 AND tenant_id = $2
	`

	result, err := r.pool.Exec(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *WebhookRepository) RotateSecret(ctx context.Context, tenantID, id uuid.UUID, secret string, at time.Time) (*webhook.Webhook, error) {
	query := `
		UPDATE webhooks
		SET previous_secret = secret, secret = $3, secret_rotated_at = $4, updated_at = $4
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + webhookColumns

	w, err := scanWebhook(r.pool.QueryRow(ctx, query, id, tenantID, secret, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rotate webhook secret: %w", err)
	}
	return w, nil
}

func (r *WebhookRepository) Reactivate(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error) {
	query := `
		UPDATE webhooks
		SET status = 'active', success_count = 0, failure_count = 0, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + webhookColumns

	w, err := scanWebhook(r.pool.QueryRow(ctx, query, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reactivate webhook: %w", err)
	}
	return w, nil
}

func (r *WebhookRepository) ListActiveByEvent(ctx context.Context, tenantID uuid.UUID, event webhook.Event) ([]*webhook.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE tenant_id = $1 AND status = 'active' AND events @> ARRAY[$2::text]
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, tenantID, string(event))
	if err != nil {
		return nil, fmt.Errorf("list active webhooks by event: %w", err)
	}
	defer rows.Close()

	webhooks, err := collectWebhooks(rows)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks by event: %w", err)
	}
	return webhooks, nil
}

func (r *WebhookRepository) TouchTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE webhooks
		SET last_triggered_at = $2
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touch webhook: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *WebhookRepository) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) (webhook.Counters, error) {
	query := `
		UPDATE webhooks
		SET success_count = success_count + 1, last_success_at = $2
		WHERE id = $1
		RETURNING success_count, failure_count, status
	`

	c, err := scanCounters(r.pool.QueryRow(ctx, query, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Counters{}, domain.ErrWebhookNotFound
	}
	if err != nil {
		return webhook.Counters{}, fmt.Errorf("record webhook success: %w", err)
	}
	return c, nil
}

func (r *WebhookRepository) RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) (webhook.Counters, error) {
	query := `
		UPDATE webhooks
		SET failure_count = failure_count + 1, last_failure_at = $2
		WHERE id = $1
		RETURNING success_count, failure_count, status
	`

	c, err := scanCounters(r.pool.QueryRow(ctx, query, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Counters{}, domain.ErrWebhookNotFound
	}
	if err != nil {
		return webhook.Counters{}, fmt.Errorf("record webhook failure: %w", err)
	}
	return c, nil
}

// Suspend re-checks the suspension rule inside the UPDATE so a success that
// lands concurrently keeps the webhook active.
func (r *WebhookRepository) Suspend(ctx context.Context, id uuid.UUID, threshold int64) (bool, error) {
	query := `
		UPDATE webhooks
		SET status = 'suspended', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND success_count = 0 AND failure_count > $2
	`

	result, err := r.pool.Exec(ctx, query, id, threshold)
	if err != nil {
		return false, fmt.Errorf("suspend webhook: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// webhookScan holds the intermediate scan targets for one webhook row.
type webhookScan struct {
	w              webhook.Webhook
	events         []string
	previousSecret *string
	status         string
}

func (s *webhookScan) dest() []any {
	return []any{
		&s.w.ID,
		&s.w.TenantID,
		&s.w.URL,
		&s.events,
		&s.w.Secret,
		&s.previousSecret,
		&s.w.SecretRotatedAt,
		&s.w.Description,
		&s.status,
		&s.w.SuccessCount,
		&s.w.FailureCount,
		&s.w.LastTriggeredAt,
		&s.w.LastSuccessAt,
		&s.w.LastFailureAt,
		&s.w.CreatedAt,
		&s.w.UpdatedAt,
	}
}

func (s *webhookScan) result() *webhook.Webhook {
	w := s.w
	w.Events = make([]webhook.Event, len(s.events))
	for i, e := range s.events {
		w.Events[i] = webhook.Event(e)
	}
	if s.previousSecret != nil {
		w.PreviousSecret = *s.previousSecret
	}
	w.Status = webhook.Status(s.status)
	return &w
}

func scanWebhook(row pgx.Row) (*webhook.Webhook, error) {
	var s webhookScan
	if err := row.Scan(s.dest()...); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func collectWebhooks(rows pgx.Rows) ([]*webhook.Webhook, error) {
	webhooks := make([]*webhook.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return webhooks, nil
}

func scanCounters(row pgx.Row) (webhook.Counters, error) {
	var (
		c      webhook.Counters
		status string
	)
	if err := row.Scan(&c.SuccessCount, &c.FailureCount, &status); err != nil {
		return webhook.Counters{}, err
	}
	c.Status = webhook.Status(status)
	return c, nil
}

func eventStrings(events []webhook.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}
