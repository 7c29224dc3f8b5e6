package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

// PgxPool is the subset of *pgxpool.Pool the repositories use, so tests
// can substitute pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ webhook.WebhookStore  = (*WebhookRepository)(nil)
	_ webhook.DeliveryStore = (*DeliveryRepository)(nil)
	_ webhook.WebhookStore  = (*MemoryStore)(nil)
	_ webhook.DeliveryStore = (*MemoryStore)(nil)
)
