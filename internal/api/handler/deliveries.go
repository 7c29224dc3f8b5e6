package handler

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DeliveryReader exposes the delivery history of a tenant.
type DeliveryReader interface {
	GetDelivery(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Delivery, error)
	ListDeliveries(ctx context.Context, tenantID, webhookID uuid.UUID, limit, offset int) ([]*webhook.Delivery, int, error)
}

// WebhookGetter resolves a tenant's webhook.
type WebhookGetter interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error)
}

// Redeliverer replays a terminal delivery.
type Redeliverer interface {
	Redeliver(ctx context.Context, tenantID, deliveryID uuid.UUID) (*webhook.Delivery, error)
}

type DeliveriesHandler struct {
	webhooks    WebhookGetter
	deliveries  DeliveryReader
	redeliverer Redeliverer
	logger      *slog.Logger
}

func NewDeliveriesHandler(webhooks WebhookGetter, deliveries DeliveryReader, redeliverer Redeliverer, logger *slog.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{
		webhooks:    webhooks,
		deliveries:  deliveries,
		redeliverer: redeliverer,
		logger:      logger,
	}
}

type DeliveryPage struct {
	Deliveries []*webhook.Delivery `json:"deliveries"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}

// List GET /v1/webhooks/:id/deliveries?page=&page_size=
// Newest first; page_size defaults to 20 and is capped at 100.
func (h *DeliveriesHandler) List(c *fiber.Ctx) error {
	tenantID, webhookID, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		return domain.ErrValidationFailed.WithMessage("page must be at least 1")
	}
	pageSize := c.QueryInt("page_size", defaultPageSize)
	if pageSize < 1 {
		return domain.ErrValidationFailed.WithMessage("page_size must be at least 1")
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	if _, err := h.webhooks.Get(c.Context(), tenantID, webhookID); err != nil {
		return err
	}

	deliveries, total, err := h.deliveries.ListDeliveries(c.Context(), tenantID, webhookID, pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	if deliveries == nil {
		deliveries = []*webhook.Delivery{}
	}

	return c.JSON(DeliveryPage{
		Deliveries: deliveries,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// Get GET /v1/deliveries/:id
func (h *DeliveriesHandler) Get(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrDeliveryNotFound)
	if err != nil {
		return err
	}

	d, err := h.deliveries.GetDelivery(c.Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(d)
}

// Redeliver POST /v1/deliveries/:id/redeliver
func (h *DeliveriesHandler) Redeliver(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrDeliveryNotFound)
	if err != nil {
		return err
	}

	d, err := h.redeliverer.Redeliver(c.Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(d)
}
