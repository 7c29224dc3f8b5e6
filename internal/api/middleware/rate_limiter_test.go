package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedApp(t *testing.T, perMinute int) *fiber.App {
	t.Helper()

	rl := NewRateLimiter(RateLimiterConfig{PerMinute: perMinute})
	t.Cleanup(rl.Stop)

	app := newTestApp()
	app.Use(func(c *fiber.Ctx) error {
		if id, err := uuid.Parse(c.Get(HeaderTenantID)); err == nil {
			c.Locals(LocalTenantID, id)
		}
		return c.Next()
	})
	app.Use(rl.Handler())
	app.Get("/test", func(c *fiber.Ctx) error { return c.SendStatus(200) })
	return app
}

func doRequest(t *testing.T, app *fiber.App, tenant string) (int, string) {
	t.Helper()

	req := httptest.NewRequest("GET", "/test", nil)
	if tenant != "" {
		req.Header.Set(HeaderTenantID, tenant)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header.Get("Retry-After")
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	app := limitedApp(t, 3)
	tenant := uuid.NewString()

	for i := 0; i < 3; i++ {
		status, _ := doRequest(t, app, tenant)
		assert.Equal(t, 200, status, "request %d", i+1)
	}

	status, retryAfter := doRequest(t, app, tenant)
	assert.Equal(t, 429, status)
	assert.NotEmpty(t, retryAfter)
}

func TestRateLimiter_TenantsAreIndependent(t *testing.T) {
	app := limitedApp(t, 1)

	a, b := uuid.NewString(), uuid.NewString()

	status, _ := doRequest(t, app, a)
	assert.Equal(t, 200, status)
	status, _ = doRequest(t, app, a)
	assert.Equal(t, 429, status)

	status, _ = doRequest(t, app, b)
	assert.Equal(t, 200, status)
}

func TestRateLimiter_NoTenantPassesThrough(t *testing.T) {
	app := limitedApp(t, 1)

	for i := 0; i < 3; i++ {
		status, _ := doRequest(t, app, "")
		assert.Equal(t, 200, status)
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{PerMinute: 10, IdleTTL: time.Minute})
	defer rl.Stop()

	now := time.Now()
	rl.get("a", now.Add(-2*time.Minute))
	rl.get("b", now)

	rl.evictIdle(now)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}
