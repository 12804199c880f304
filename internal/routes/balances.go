package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/ledger"
)

// RegisterBalanceRoutes wires balance read endpoints.
func RegisterBalanceRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/balances", h.Balances)
	r.Get("/balances/check", h.Check)
}
