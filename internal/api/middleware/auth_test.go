package middleware

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil))),
	})
}

func TestAuth(t *testing.T) {
	const token = "test-api-token-12345"
	tenantID := uuid.New()

	tests := []struct {
		name           string
		authHeader     string
		tenantHeader   string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "valid token and tenant",
			authHeader:     "Bearer " + token,
			tenantHeader:   tenantID.String(),
			expectedStatus: 200,
		},
		{
			name:           "lowercase bearer scheme",
			authHeader:     "bearer " + token,
			tenantHeader:   tenantID.String(),
			expectedStatus: 200,
		},
		{
			name:           "missing Authorization header",
			tenantHeader:   tenantID.String(),
			expectedStatus: 401,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "wrong token",
			authHeader:     "Bearer nope",
			tenantHeader:   tenantID.String(),
			expectedStatus: 401,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "basic scheme",
			authHeader:     "Basic " + token,
			tenantHeader:   tenantID.String(),
			expectedStatus: 401,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "missing tenant",
			authHeader:     "Bearer " + token,
			expectedStatus: 400,
			expectedCode:   "TENANT_REQUIRED",
		},
		{
			name:           "malformed tenant",
			authHeader:     "Bearer " + token,
			tenantHeader:   "tenant-1",
			expectedStatus: 400,
			expectedCode:   "TENANT_REQUIRED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp()
			app.Use(Auth(token))
			app.Get("/test", func(c *fiber.Ctx) error {
				got, err := GetTenantID(c)
				if err != nil {
					return err
				}
				return c.SendString(got.String())
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.tenantHeader != "" {
				req.Header.Set(HeaderTenantID, tt.tenantHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			if tt.expectedStatus == 200 {
				assert.Equal(t, tenantID.String(), string(body))
			} else {
				assert.Contains(t, string(body), tt.expectedCode)
			}
		})
	}
}

func TestAuth_EmptyConfiguredToken(t *testing.T) {
	app := newTestApp()
	app.Use(Auth(""))
	app.Get("/test", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer ")
	req.Header.Set(HeaderTenantID, uuid.NewString())

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestGetTenantID_Missing(t *testing.T) {
	app := newTestApp()
	app.Get("/test", func(c *fiber.Ctx) error {
		_, err := GetTenantID(c)
		return err
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}
