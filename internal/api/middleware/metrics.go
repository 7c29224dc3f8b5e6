package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPObserver records one finished request.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Metrics records method, matched route and status for every request that
// reaches it. Register it before Logger so the status it reads is the
// rendered one.
func Metrics(observer HTTPObserver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" || route == "/" {
			route = "unmatched"
		}
		observer.ObserveHTTP(c.Method(), route, c.Response().StatusCode(), time.Since(start))
		return err
	}
}
