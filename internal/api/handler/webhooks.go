package handler

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

// WebhookRegistry is the subscription management surface used by the API.
type WebhookRegistry interface {
	Create(ctx context.Context, tenantID uuid.UUID, in webhook.CreateInput) (*webhook.Webhook, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, patch webhook.Patch) (*webhook.Webhook, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	RegenerateSecret(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error)
	Reactivate(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Webhook, error)
}

// WebhookTester sends a one-off delivery to a single webhook.
type WebhookTester interface {
	TriggerWebhook(ctx context.Context, tenantID, webhookID uuid.UUID, event webhook.Event, data any) (*webhook.Delivery, error)
}

type WebhooksHandler struct {
	registry WebhookRegistry
	tester   WebhookTester
	logger   *slog.Logger
}

func NewWebhooksHandler(registry WebhookRegistry, tester WebhookTester, logger *slog.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		registry: registry,
		tester:   tester,
		logger:   logger,
	}
}

// WebhookWithSecret is returned by the two calls that expose the signing
// secret: creation and rotation.
type WebhookWithSecret struct {
	Webhook *webhook.Webhook `json:"webhook"`
	Secret  string           `json:"secret"`
}

type TestWebhookRequest struct {
	Event webhook.Event `json:"event"`
	Data  any           `json:"data"`
}

// List GET /v1/webhooks
func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return err
	}

	webhooks, err := h.registry.List(c.Context(), tenantID)
	if err != nil {
		return err
	}
	if webhooks == nil {
		webhooks = []*webhook.Webhook{}
	}

	return c.JSON(fiber.Map{
		"webhooks": webhooks,
	})
}

// Create POST /v1/webhooks
func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return err
	}

	var req webhook.CreateInput
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	w, err := h.registry.Create(c.Context(), tenantID, req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(WebhookWithSecret{
		Webhook: w,
		Secret:  w.Secret,
	})
}

// Get GET /v1/webhooks/:id
func (h *WebhooksHandler) Get(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	w, err := h.registry.Get(c.Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

// Update PATCH /v1/webhooks/:id
func (h *WebhooksHandler) Update(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	var patch webhook.Patch
	if err := c.BodyParser(&patch); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	w, err := h.registry.Update(c.Context(), tenantID, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

// Delete DELETE /v1/webhooks/:id
func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	if err := h.registry.Delete(c.Context(), tenantID, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RegenerateSecret POST /v1/webhooks/:id/secret
func (h *WebhooksHandler) RegenerateSecret(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	w, err := h.registry.RegenerateSecret(c.Context(), tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(WebhookWithSecret{
		Webhook: w,
		Secret:  w.Secret,
	})
}

// Reactivate POST /v1/webhooks/:id/reactivate
func (h *WebhooksHandler) Reactivate(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	w, err := h.registry.Reactivate(c.Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

// Test POST /v1/webhooks/:id/test. The event defaults to the webhook's
// first subscription and data to a small marker object.
func (h *WebhooksHandler) Test(c *fiber.Ctx) error {
	tenantID, id, err := tenantAndID(c, domain.ErrWebhookNotFound)
	if err != nil {
		return err
	}

	var req TestWebhookRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return domain.ErrBadRequest.WithError(err)
		}
	}

	if req.Event == "" {
		w, err := h.registry.Get(c.Context(), tenantID, id)
		if err != nil {
			return err
		}
		req.Event = w.Events[0]
	}
	if req.Data == nil {
		req.Data = fiber.Map{"test": true}
	}

	d, err := h.tester.TriggerWebhook(c.Context(), tenantID, id, req.Event, req.Data)
	if err != nil {
		return err
	}

	h.logger.Info("test delivery sent",
		"tenant_id", tenantID,
		"webhook_id", id,
		"delivery_id", d.ID,
		"status", d.Status,
	)

	return c.JSON(d)
}

// tenantAndID resolves the authenticated tenant and the :id path param.
// A malformed id is reported as notFound since no such resource can exist.
func tenantAndID(c *fiber.Ctx, notFound *domain.AppError) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, notFound
	}
	return tenantID, id, nil
}
