package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// WebhookResponse represents a webhook subscription
type WebhookResponse struct {
	ID                       string   `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	TenantID                 string   `json:"tenant_id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	URL                      string   `json:"url" example:"https://example.com/hooks/billing"`
	Events                   []string `json:"events" example:"invoice.paid,invoice.overdue"`
	Description              string   `json:"description,omitempty" example:"Billing sync"`
	Status                   string   `json:"status" example:"active"`
	SuccessCount             int64    `json:"success_count" example:"42"`
	FailureCount             int64    `json:"failure_count" example:"1"`
	SecretRotatedAt          string   `json:"secret_rotated_at,omitempty" example:"2024-01-01T00:00:00Z"`
	// end of the window in which receivers should still accept the previous secret
	PreviousSecretValidUntil string   `json:"previous_secret_valid_until,omitempty" example:"2024-01-02T00:00:00Z"`
	LastTriggeredAt          string   `json:"last_triggered_at,omitempty" example:"2024-01-01T00:00:00Z"`
	LastSuccessAt            string   `json:"last_success_at,omitempty" example:"2024-01-01T00:00:00Z"`
	LastFailureAt            string   `json:"last_failure_at,omitempty" example:"2024-01-01T00:00:00Z"`
	CreatedAt                string   `json:"created_at" example:"2024-01-01T00:00:00Z"`
	UpdatedAt                string   `json:"updated_at" example:"2024-01-01T00:00:00Z"`
}

// WebhookListResponse represents the list of a tenant's webhooks
type WebhookListResponse struct {
	Webhooks []WebhookResponse `json:"webhooks"`
}

// WebhookSecretResponse is returned on creation and secret rotation, the
// only two places the signing secret is exposed
type WebhookSecretResponse struct {
	Webhook WebhookResponse `json:"webhook"`
	Secret  string          `json:"secret" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
}

// CreateWebhookRequest represents the body to register a webhook
type CreateWebhookRequest struct {
	URL         string   `json:"url" example:"https://example.com/hooks/billing"`
	Events      []string `json:"events" example:"invoice.paid,invoice.overdue"`
	Description string   `json:"description,omitempty" example:"Billing sync"`
}

// UpdateWebhookRequest represents a partial update; omitted fields are kept
type UpdateWebhookRequest struct {
	URL         string   `json:"url,omitempty" example:"https://example.com/hooks/v2"`
	Events      []string `json:"events,omitempty" example:"invoice.paid"`
	Description string   `json:"description,omitempty" example:"Billing sync v2"`
	Status      string   `json:"status,omitempty" example:"inactive"`
}

// TestWebhookRequest represents the body of a manual test delivery
type TestWebhookRequest struct {
	Event string                 `json:"event,omitempty" example:"invoice.paid"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// DeliveryResponse represents one delivery of an event to a webhook
type DeliveryResponse struct {
	ID             string                 `json:"id" example:"0b9f5c1e-2f4e-4c7b-9f2a-6d1c2b3a4e5f"`
	WebhookID      string                 `json:"webhook_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	TenantID       string                 `json:"tenant_id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	Event          string                 `json:"event" example:"invoice.paid"`
	Payload        map[string]interface{} `json:"payload"`
	Status         string                 `json:"status" example:"retrying"`
	Attempts       int                    `json:"attempts" example:"2"`
	ResponseStatus int                    `json:"response_status,omitempty" example:"503"`
	ResponseBody   string                 `json:"response_body,omitempty" example:"Service Unavailable"`
	ErrorMessage   string                 `json:"error_message,omitempty" example:"subscriber responded with status 503"`
	NextRetryAt    string                 `json:"next_retry_at,omitempty" example:"2024-01-01T00:05:00Z"`
	DeliveredAt    string                 `json:"delivered_at,omitempty" example:"2024-01-01T00:00:01Z"`
	CreatedAt      string                 `json:"created_at" example:"2024-01-01T00:00:00Z"`
}

// DeliveryPageResponse represents a page of delivery history, newest first
type DeliveryPageResponse struct {
	Deliveries []DeliveryResponse `json:"deliveries"`
	Total      int                `json:"total" example:"45"`
	Page       int                `json:"page" example:"1"`
	PageSize   int                `json:"page_size" example:"20"`
}

// PublishEventRequest represents a business event from a producer
type PublishEventRequest struct {
	Event string                 `json:"event" example:"invoice.paid"`
	Data  map[string]interface{} `json:"data"`
}

// PublishEventResponse lists the deliveries created for the event
type PublishEventResponse struct {
	Event      string             `json:"event" example:"invoice.paid"`
	Deliveries []DeliveryResponse `json:"deliveries"`
}

// HealthResponse represents the health and readiness probes
type HealthResponse struct {
	Status  string            `json:"status" example:"ok"`
	Version string            `json:"version,omitempty" example:"1.0.0"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"VALIDATION_FAILED"`
	Message string `json:"message" example:"Request validation failed"`
}

// EmptyResponse represents no content response (204)
type EmptyResponse struct{}

var (
	security = []map[string][]string{{"BearerAuth": {}}}

	tenantHeader = parameter.StrParam("X-Tenant-ID", parameter.Header, parameter.WithDescription("Tenant UUID the request acts on"))
	webhookID    = parameter.StrParam("id", parameter.Path, parameter.WithDescription("Webhook ID"))
	deliveryID   = parameter.StrParam("id", parameter.Path, parameter.WithDescription("Delivery ID"))

	errBadRequest   = response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "Invalid request"}, "400", "Bad Request")
	errTenant       = response.New(ErrorResponse{Code: "TENANT_REQUIRED", Message: "X-Tenant-ID header must carry a valid tenant UUID"}, "400", "Bad Request")
	errUnauthorized = response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API token"}, "401", "Unauthorized")
	errRateLimited  = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later"}, "429", "Too Many Requests")
	errInternal     = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	errNoWebhook    = response.New(ErrorResponse{Code: "WEBHOOK_NOT_FOUND", Message: "Webhook not found"}, "404", "Not Found")
	errNoDelivery   = response.New(ErrorResponse{Code: "DELIVERY_NOT_FOUND", Message: "Delivery not found"}, "404", "Not Found")
	errSuspended    = response.New(ErrorResponse{Code: "WEBHOOK_SUSPENDED", Message: "Webhook is suspended and must be reactivated first"}, "409", "Conflict")
	errInvalidURL   = response.New(ErrorResponse{Code: "INVALID_WEBHOOK_URL", Message: "Webhook URL must be an absolute http or https URL"}, "422", "Unprocessable Entity")
	errInvalidEvent = response.New(ErrorResponse{Code: "INVALID_EVENTS", Message: "Webhook must subscribe to at least one known event"}, "422", "Unprocessable Entity")
)

// commonErrors appends the errors every authenticated endpoint can return.
func commonErrors(errs ...response.Response) []response.Response {
	return append(errs, errTenant, errUnauthorized, errRateLimited, errInternal)
}

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "HookRelay Webhook Delivery API",
		Version:     "v1.0.0",
		Description: "Multi-tenant outbound webhook delivery: subscriptions, signed deliveries, retries and delivery history",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// Webhooks endpoints

		// GET /v1/webhooks - List Webhooks
		endpoint.New(
			endpoint.GET,
			"/webhooks",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("List webhooks"),
			endpoint.WithDescription("Lists every webhook registered by the tenant. Secrets are never included."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookListResponse{}, "200", "Webhooks listed successfully"),
			}),
			endpoint.WithErrors(commonErrors()),
			endpoint.WithSecurity(security),
		),

		// POST /v1/webhooks - Create Webhook
		endpoint.New(
			endpoint.POST,
			"/webhooks",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Register a webhook"),
			endpoint.WithDescription("Registers an ACTIVE webhook and returns its signing secret. Duplicate events are collapsed."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader),
			endpoint.WithBody(CreateWebhookRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookSecretResponse{}, "201", "Webhook registered successfully"),
			}),
			endpoint.WithErrors(commonErrors(errBadRequest, errInvalidURL, errInvalidEvent)),
			endpoint.WithSecurity(security),
		),

		// GET /v1/webhooks/{id} - Get Webhook
		endpoint.New(
			endpoint.GET,
			"/webhooks/{id}",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Get a webhook"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, webhookID),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookResponse{}, "200", "Webhook found"),
			}),
			endpoint.WithErrors(commonErrors(errNoWebhook)),
			endpoint.WithSecurity(security),
		),

		// PATCH /v1/webhooks/{id} - Update Webhook
		endpoint.New(
			endpoint.PATCH,
			"/webhooks/{id}",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Update a webhook"),
			endpoint.WithDescription("Changes url, events, description or status (active/inactive). A suspended webhook must be reactivated instead."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, webhookID),
			endpoint.WithBody(UpdateWebhookRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookResponse{}, "200", "Webhook updated successfully"),
			}),
			endpoint.WithErrors(commonErrors(errBadRequest, errNoWebhook, errSuspended, errInvalidURL, errInvalidEvent)),
			endpoint.WithSecurity(security),
		),

		// DELETE /v1/webhooks/{id} - Delete Webhook
		endpoint.New(
			endpoint.DELETE,
			"/webhooks/{id}",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Delete a webhook"),
			endpoint.WithDescription("Deletes the webhook together with its delivery history."),
			endpoint.WithParams(tenantHeader, webhookID),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Webhook deleted successfully"),
			}),
			endpoint.WithErrors(commonErrors(errNoWebhook)),
			endpoint.WithSecurity(security),
		),

		// POST /v1/webhooks/{id}/secret - Rotate Secret
		endpoint.New(
			endpoint.POST,
			"/webhooks/{id}/secret",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Regenerate the signing secret"),
			endpoint.WithDescription("Issues a new signing secret. The previous secret stays valid for receivers until previous_secret_valid_until (SECRET_GRACE_PERIOD after rotation)."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, webhookID),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookSecretResponse{}, "200", "Secret rotated successfully"),
			}),
			endpoint.WithErrors(commonErrors(errNoWebhook)),
			endpoint.WithSecurity(security),
		),

		// POST /v1/webhooks/{id}/reactivate - Reactivate Webhook
		endpoint.New(
			endpoint.POST,
			"/webhooks/{id}/reactivate",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Reactivate a webhook"),
			endpoint.WithDescription("Sets the webhook ACTIVE and resets its success and failure counters."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, webhookID),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookResponse{}, "200", "Webhook reactivated successfully"),
			}),
			endpoint.WithErrors(commonErrors(errNoWebhook)),
			endpoint.WithSecurity(security),
		),

		// POST /v1/webhooks/{id}/test - Test Webhook
		endpoint.New(
			endpoint.POST,
			"/webhooks/{id}/test",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Send a test delivery"),
			endpoint.WithDescription("Sends one signed delivery to the webhook regardless of its subscriptions and returns the outcome."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, webhookID),
			endpoint.WithBody(TestWebhookRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(DeliveryResponse{}, "200", "Test delivery attempted"),
			}),
			endpoint.WithErrors(commonErrors(errBadRequest, errNoWebhook, errSuspended, errInvalidEvent)),
			endpoint.WithSecurity(security),
		),

		// Deliveries endpoints

		// GET /v1/webhooks/{id}/deliveries - List Deliveries
		endpoint.New(
			endpoint.GET,
			"/webhooks/{id}/deliveries",
			endpoint.WithTags("Deliveries"),
			endpoint.WithSummary("List delivery history"),
			endpoint.WithDescription("Lists the webhook's deliveries, newest first"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				tenantHeader,
				webhookID,
				parameter.IntParam("page", parameter.Query, parameter.WithDescription("Page number (default: 1)")),
				parameter.IntParam("page_size", parameter.Query, parameter.WithDescription("Page size (default: 20, max: 100)")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(DeliveryPageResponse{}, "200", "Deliveries listed successfully"),
			}),
			endpoint.WithErrors(commonErrors(errNoWebhook)),
			endpoint.WithSecurity(security),
		),

		// GET /v1/deliveries/{id} - Get Delivery
		endpoint.New(
			endpoint.GET,
			"/deliveries/{id}",
			endpoint.WithTags("Deliveries"),
			endpoint.WithSummary("Get a delivery"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, deliveryID),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(DeliveryResponse{}, "200", "Delivery found"),
			}),
			endpoint.WithErrors(commonErrors(errNoDelivery)),
			endpoint.WithSecurity(security),
		),

		// POST /v1/deliveries/{id}/redeliver - Redeliver
		endpoint.New(
			endpoint.POST,
			"/deliveries/{id}/redeliver",
			endpoint.WithTags("Deliveries"),
			endpoint.WithSummary("Redeliver a finished delivery"),
			endpoint.WithDescription("Creates a new delivery with the same payload. Only SUCCESS or FAILED deliveries can be redelivered."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader, deliveryID),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(DeliveryResponse{}, "202", "Redelivery accepted"),
			}),
			endpoint.WithErrors(commonErrors(
				errNoDelivery,
				errSuspended,
				response.New(ErrorResponse{Code: "DELIVERY_NOT_TERMINAL", Message: "Only succeeded or failed deliveries can be redelivered"}, "409", "Conflict"),
			)),
			endpoint.WithSecurity(security),
		),

		// Events endpoints

		// POST /v1/events - Publish Event
		endpoint.New(
			endpoint.POST,
			"/events",
			endpoint.WithTags("Events"),
			endpoint.WithSummary("Publish a business event"),
			endpoint.WithDescription("Fans the event out to every ACTIVE webhook of the tenant subscribed to it. Subscriber failures are retried in the background and never fail this call."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(tenantHeader),
			endpoint.WithBody(PublishEventRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(PublishEventResponse{}, "202", "Event accepted"),
			}),
			endpoint.WithErrors(commonErrors(
				errBadRequest,
				response.New(ErrorResponse{Code: "INVALID_EVENTS", Message: `Unknown event "order.shipped"`}, "422", "Unprocessable Entity"),
			)),
			endpoint.WithSecurity(security),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
