package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/recurring"
)

// RegisterRecurringRoutes wires recurring-rule endpoints.
func RegisterRecurringRoutes(r fiber.Router, h *recurring.Handler) {
	r.Post("/recurring-rules", h.Create)
	r.Get("/recurring-rules", h.List)
	r.Get("/recurring-rules/:id", h.Get)
	r.Put("/recurring-rules/:id", h.Update)
	r.Post("/recurring-rules/:id/toggle", h.Toggle)
	r.Post("/recurring-rules/:id/duplicate", h.Duplicate)
	r.Delete("/recurring-rules/:id", h.Delete)
	r.Get("/recurring-rules/:id/executions", h.Executions)
}
