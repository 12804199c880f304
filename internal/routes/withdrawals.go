package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires withdrawal endpoints.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler) {
	r.Post("/withdrawals", h.Create)
	r.Get("/withdrawals", h.List)
	r.Get("/withdrawals/:id", h.Get)
	r.Post("/withdrawals/:id/cancel", h.Cancel)
}
