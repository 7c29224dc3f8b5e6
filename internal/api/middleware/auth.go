package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

const (
	// LocalTenantID is the key to retrieve tenant_id from context
	LocalTenantID = "tenant_id"

	HeaderTenantID = "X-Tenant-ID"
)

var ErrMissingTenant = &domain.AppError{
	Code:       "TENANT_REQUIRED",
	Message:    "X-Tenant-ID header must carry a valid tenant UUID",
	StatusCode: 400,
}

// Auth checks the bearer token against the configured API token and
// resolves the tenant from the X-Tenant-ID header.
func Auth(apiToken string) fiber.Handler {
	expected := []byte(apiToken)

	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" || len(expected) == 0 {
			return domain.ErrUnauthorized
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			return domain.ErrUnauthorized
		}

		tenantID, err := uuid.Parse(strings.TrimSpace(c.Get(HeaderTenantID)))
		if err != nil || tenantID == uuid.Nil {
			return ErrMissingTenant
		}

		c.Locals(LocalTenantID, tenantID)
		return c.Next()
	}
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// GetTenantID retrieves tenant_id from Fiber context
func GetTenantID(c *fiber.Ctx) (uuid.UUID, error) {
	tenantID, ok := c.Locals(LocalTenantID).(uuid.UUID)
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return tenantID, nil
}
