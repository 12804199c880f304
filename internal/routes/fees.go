package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/fees"
)

// RegisterFeeRoutes wires the fee estimate endpoint.
func RegisterFeeRoutes(r fiber.Router, h *fees.Handler) {
	r.Get("/fees/estimate", h.Estimate)
}
