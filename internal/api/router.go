package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

const Version = "1.0.0"

type Config struct {
	APIToken        string
	RateLimitPerMin int
}

type Dependencies struct {
	Registry   *webhook.Registry
	Dispatcher *webhook.Dispatcher
	Deliveries handler.DeliveryReader

	// Metrics and Gatherer are optional; without them /metrics is not served.
	Metrics  middleware.HTTPObserver
	Gatherer prometheus.Gatherer

	Checks []handler.Check
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	config      Config
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
}

func NewRouter(logger *slog.Logger, config Config, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "HookRelay API",
	})

	return &Router{
		app:    app,
		logger: logger,
		config: config,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	if r.deps != nil && r.deps.Metrics != nil {
		r.app.Use(middleware.Metrics(r.deps.Metrics))
	}
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Tenant-ID",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	// Health check endpoints (no auth required)
	var checks []handler.Check
	if r.deps != nil {
		checks = r.deps.Checks
	}
	healthHandler := handler.NewHealthHandler(Version, checks...)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil {
		return
	}

	if r.deps.Gatherer != nil {
		r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 group with authentication
	v1 := r.app.Group("/v1")
	v1.Use(middleware.Auth(r.config.APIToken))

	// Rate limiting (per tenant) - must come after auth to have tenant context
	limiterConfig := middleware.DefaultRateLimiterConfig()
	if r.config.RateLimitPerMin > 0 {
		limiterConfig.PerMinute = r.config.RateLimitPerMin
	}
	r.rateLimiter = middleware.NewRateLimiter(limiterConfig)
	v1.Use(r.rateLimiter.Handler())

	webhooksHandler := handler.NewWebhooksHandler(r.deps.Registry, r.deps.Dispatcher, r.logger)
	deliveriesHandler := handler.NewDeliveriesHandler(r.deps.Registry, r.deps.Deliveries, r.deps.Dispatcher, r.logger)
	eventsHandler := handler.NewEventsHandler(r.deps.Dispatcher, r.logger)

	// Webhook routes
	v1.Get("/webhooks", webhooksHandler.List)
	v1.Post("/webhooks", webhooksHandler.Create)
	v1.Get("/webhooks/:id", webhooksHandler.Get)
	v1.Patch("/webhooks/:id", webhooksHandler.Update)
	v1.Delete("/webhooks/:id", webhooksHandler.Delete)
	v1.Post("/webhooks/:id/secret", webhooksHandler.RegenerateSecret)
	v1.Post("/webhooks/:id/reactivate", webhooksHandler.Reactivate)
	v1.Post("/webhooks/:id/test", webhooksHandler.Test)

	// Delivery routes
	v1.Get("/webhooks/:id/deliveries", deliveriesHandler.List)
	v1.Get("/deliveries/:id", deliveriesHandler.Get)
	v1.Post("/deliveries/:id/redeliver", deliveriesHandler.Redeliver)

	// Producer ingest
	v1.Post("/events", eventsHandler.Publish)
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	return r.app.Shutdown()
}
