package fees

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the fee estimate endpoint.
type Handler struct {
	estimator *Estimator
}

// NewHandler constructs a fee handler.
func NewHandler(estimator *Estimator) *Handler {
	return &Handler{estimator: estimator}
}

// Estimate quotes fees for a prospective withdrawal without touching state.
func (h *Handler) Estimate(c *fiber.Ctx) error {
	asset := c.Query("asset")
	network := c.Query("network")
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be an integer")
	}

	est, err := h.estimator.Estimate(asset, network, amount)
	if err != nil {
		if errors.Is(err, ErrUnsupportedNetwork) {
			return fiber.NewError(http.StatusBadRequest, "unsupported network")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(est)
}
