package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/middleware"
)

// Handler exposes balance read endpoints.
type Handler struct {
	ledger Ledger
}

// NewHandler constructs a balance handler.
func NewHandler(lg Ledger) *Handler {
	return &Handler{ledger: lg}
}

// Balances returns the caller's balances across assets.
func (h *Handler) Balances(c *fiber.Ctx) error {
	items, err := h.ledger.Balances(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"items": items})
}

// Check reports whether the caller could cover an amount. Advisory only:
// the authorizing check happens inside Reserve.
func (h *Handler) Check(c *fiber.Ctx) error {
	asset := c.Query("asset")
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be an integer")
	}

	res, err := h.ledger.CheckBalance(c.UserContext(), middleware.CallerID(c), asset, amount)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			return fiber.NewError(http.StatusBadRequest, "amount must be positive")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(res)
}
