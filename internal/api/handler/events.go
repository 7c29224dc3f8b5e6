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

// EventTrigger fans a business event out to subscribed webhooks.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, tenantID uuid.UUID, event webhook.Event, data any) ([]*webhook.Delivery, error)
}

type EventsHandler struct {
	trigger EventTrigger
	logger  *slog.Logger
}

func NewEventsHandler(trigger EventTrigger, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		trigger: trigger,
		logger:  logger,
	}
}

type PublishEventRequest struct {
	Event webhook.Event `json:"event"`
	Data  any           `json:"data"`
}

type PublishEventResponse struct {
	Event      webhook.Event       `json:"event"`
	Deliveries []*webhook.Delivery `json:"deliveries"`
}

// Publish POST /v1/events - producer ingest. Subscriber failures never
// surface here; the response lists the deliveries that were created.
func (h *EventsHandler) Publish(c *fiber.Ctx) error {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return err
	}

	var req PublishEventRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if req.Event == "" {
		return domain.ErrValidationFailed.WithMessage("event is required")
	}

	deliveries, err := h.trigger.TriggerEvent(c.Context(), tenantID, req.Event, req.Data)
	if err != nil {
		return err
	}
	if deliveries == nil {
		deliveries = []*webhook.Delivery{}
	}

	return c.Status(fiber.StatusAccepted).JSON(PublishEventResponse{
		Event:      req.Event,
		Deliveries: deliveries,
	})
}
