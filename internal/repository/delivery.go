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

const deliveryColumns = `id, webhook_id, tenant_id, event, payload, status, attempts,
		response_status, response_body, error_message, next_retry_at, delivered_at, created_at`

// claimColumns returns the delivery row followed by its webhook row, for
// statements that join the two.
const claimColumns = `d.id, d.webhook_id, d.tenant_id, d.event, d.payload, d.status, d.attempts,
		d.response_status, d.response_body, d.error_message, d.next_retry_at, d.delivered_at, d.created_at,
		w.id, w.tenant_id, w.url, w.events, w.secret, w.previous_secret, w.secret_rotated_at, w.description, w.status,
		w.success_count, w.failure_count, w.last_triggered_at, w.last_success_at, w.last_failure_at, w.created_at, w.updated_at`

type DeliveryRepository struct {
	pool PgxPool
}

func NewDeliveryRepository(pool PgxPool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func (r *DeliveryRepository) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, tenant_id, event, payload, status, attempts, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.WebhookID,
		d.TenantID,
		string(d.Event),
		[]byte(d.Payload),
		string(d.Status),
		d.Attempts,
		d.NextRetryAt,
		d.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrWebhookNotFound
		}
		return fmt.Errorf("create delivery: %w", err)
	}

	return nil
}

// UpdateDelivery writes the attempt outcome unless the stored row already
// reached a terminal status.
func (r *DeliveryRepository) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, attempts = $3, response_status = $4, response_body = $5,
			error_message = $6, next_retry_at = $7, delivered_at = $8
		WHERE id = $1 AND status NOT IN ('success', 'failed')
	`

	result, err := r.pool.Exec(ctx, query,
		d.ID,
		string(d.Status),
		d.Attempts,
		d.ResponseStatus,
		d.ResponseBody,
		d.ErrorMessage,
		d.NextRetryAt,
		d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id = $1)`, d.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if !exists {
		return domain.ErrDeliveryNotFound
	}
	return webhook.ErrDeliveryTerminal
}

func (r *DeliveryRepository) GetDelivery(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE id = $1 AND tenant_id = $2
	`

	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns one page of a webhook's history, newest first,
// with the total number of deliveries.
func (r *DeliveryRepository) ListDeliveries(ctx context.Context, tenantID, webhookID uuid.UUID, limit, offset int) ([]*webhook.Delivery, int, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM webhook_deliveries
		WHERE tenant_id = $1 AND webhook_id = $2
	`

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, tenantID, webhookID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE tenant_id = $1 AND webhook_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, tenantID, webhookID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*webhook.Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}

	return deliveries, total, nil
}

// ClaimDue leases a batch of due retries in one statement. Rows locked by a
// concurrent sweeper are skipped, and the pushed next_retry_at hides the
// claimed rows until the lease expires.
func (r *DeliveryRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, maxAttempts, limit int) ([]webhook.Claim, error) {
	query := `
		UPDATE webhook_deliveries d
		SET next_retry_at = $2
		FROM webhooks w
		WHERE w.id = d.webhook_id
			AND d.id IN (
				SELECT dd.id
				FROM webhook_deliveries dd
				JOIN webhooks ww ON ww.id = dd.webhook_id
				WHERE dd.status = 'retrying'
					AND dd.next_retry_at <= $1
					AND dd.attempts < $3
					AND ww.status = 'active'
				ORDER BY dd.next_retry_at
				LIMIT $4
				FOR UPDATE OF dd SKIP LOCKED
			)
		RETURNING ` + claimColumns

	rows, err := r.pool.Query(ctx, query, now, now.Add(lease), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	defer rows.Close()

	claims := make([]webhook.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}

	return claims, nil
}

// ClaimPending leases a queued delivery that has not been attempted yet.
// A nil claim means it is no longer eligible; ErrDeliveryLeased means a
// live claim is held elsewhere and the caller should try again later.
func (r *DeliveryRepository) ClaimPending(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (*webhook.Claim, error) {
	query := `
		UPDATE webhook_deliveries d
		SET next_retry_at = $3
		FROM webhooks w
		WHERE w.id = d.webhook_id
			AND d.id = $1
			AND d.status = 'pending'
			AND d.attempts = 0
			AND (d.next_retry_at IS NULL OR d.next_retry_at <= $2)
			AND w.status = 'active'
		RETURNING ` + claimColumns

	c, err := scanClaim(r.pool.QueryRow(ctx, query, id, now, now.Add(lease)))
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim pending delivery: %w", err)
	}

	heldQuery := `
		SELECT EXISTS (
			SELECT 1
			FROM webhook_deliveries d
			JOIN webhooks w ON w.id = d.webhook_id
			WHERE d.id = $1
				AND d.status = 'pending'
				AND d.attempts = 0
				AND d.next_retry_at > $2
				AND w.status = 'active'
		)
	`

	var held bool
	if err := r.pool.QueryRow(ctx, heldQuery, id, now).Scan(&held); err != nil {
		return nil, fmt.Errorf("check pending delivery lease: %w", err)
	}
	if held {
		return nil, webhook.ErrDeliveryLeased
	}
	return nil, nil
}

// FailInterrupted closes out deliveries whose final attempt was marked in
// flight but never recorded an outcome.
func (r *DeliveryRepository) FailInterrupted(ctx context.Context, now time.Time, maxAttempts int) (int, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'failed',
			next_retry_at = NULL,
			error_message = COALESCE(error_message, $3)
		WHERE status = 'retrying'
			AND attempts >= $2
			AND next_retry_at <= $1
	`

	result, err := r.pool.Exec(ctx, query, now, maxAttempts, webhook.InterruptedAttemptMessage)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted deliveries: %w", err)
	}
	return int(result.RowsAffected()), nil
}

type deliveryScan struct {
	d       webhook.Delivery
	event   string
	payload []byte
	status  string
}

func (s *deliveryScan) dest() []any {
	return []any{
		&s.d.ID,
		&s.d.WebhookID,
		&s.d.TenantID,
		&s.event,
		&s.payload,
		&s.status,
		&s.d.Attempts,
		&s.d.ResponseStatus,
		&s.d.ResponseBody,
		&s.d.ErrorMessage,
		&s.d.NextRetryAt,
		&s.d.DeliveredAt,
		&s.d.CreatedAt,
	}
}

func (s *deliveryScan) result() *webhook.Delivery {
	d := s.d
	d.Event = webhook.Event(s.event)
	d.Payload = s.payload
	d.Status = webhook.DeliveryStatus(s.status)
	return &d
}

func scanDelivery(row pgx.Row) (*webhook.Delivery, error) {
	var s deliveryScan
	if err := row.Scan(s.dest()...); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func scanClaim(row pgx.Row) (webhook.Claim, error) {
	var (
		ds deliveryScan
		ws webhookScan
	)
	if err := row.Scan(append(ds.dest(), ws.dest()...)...); err != nil {
		return webhook.Claim{}, err
	}
	return webhook.Claim{Webhook: ws.result(), Delivery: ds.result()}, nil
}
