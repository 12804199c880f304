package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const callerHeader = "X-User-ID"

// Caller resolves the acting account from the X-User-ID header set by the
// authenticating edge proxy. Requests without an identity are rejected
// before any handler runs.
func Caller() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(callerHeader))
		if userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing caller identity")
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

// CallerID reads the identity stored by Caller.
func CallerID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
