package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of auditable event
type EventType string

const (
	EventWebhookCreated       EventType = "WEBHOOK_CREATED"
	EventWebhookUpdated       EventType = "WEBHOOK_UPDATED"
	EventWebhookDeleted       EventType = "WEBHOOK_DELETED"
	EventWebhookSecretRotated EventType = "WEBHOOK_SECRET_ROTATED"
	EventWebhookReactivated   EventType = "WEBHOOK_REACTIVATED"
	EventWebhookSuspended     EventType = "WEBHOOK_SUSPENDED"
)

// Event represents a change to a tenant's webhook subscriptions
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	EventType EventType         `json:"event_type"`
	WebhookID uuid.UUID         `json:"webhook_id"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a new audit logger using slog
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{
		logger: logger.With("component", "audit"),
	}
}

// Log records an audit event. Suspensions are logged at warn level so
// they stand out from routine registry changes.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to marshal audit event",
			slog.String("error", err.Error()),
			slog.String("event_type", string(event.EventType)),
		)
		return err
	}

	level := slog.LevelInfo
	if event.EventType == EventWebhookSuspended {
		level = slog.LevelWarn
	}

	l.logger.Log(ctx, level, "audit_event",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.EventType)),
		slog.String("tenant_id", event.TenantID.String()),
		slog.String("webhook_id", event.WebhookID.String()),
		slog.Bool("success", event.Success),
		slog.String("event_data", string(eventJSON)),
	)

	return nil
}

// NoOpLogger is a logger that does nothing (for testing or when audit is disabled)
type NoOpLogger struct{}

// Log does nothing and returns nil
func (l *NoOpLogger) Log(_ context.Context, _ Event) error {
	return nil
}
