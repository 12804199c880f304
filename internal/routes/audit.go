package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/audit"
)

// RegisterAuditRoutes exposes the in-process ring of recent audit entries.
// This is operator telemetry; the durable record stays in the audit store.
func RegisterAuditRoutes(r fiber.Router, recorder *audit.Recorder) {
	r.Get("/audit/recent", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"items": recorder.Recent()})
	})
}
