package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/fees"
	"github.com/meridian-markets/treasury/internal/ledger"
	"github.com/meridian-markets/treasury/internal/middleware"
	"github.com/meridian-markets/treasury/internal/validation"
)

// Handler exposes withdrawal endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Asset       string `json:"asset"`
	Network     string `json:"network"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
}

// Create accepts a withdrawal request, reserving funds on success.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Create(c.UserContext(), CreateInput{
		UserID:      middleware.CallerID(c),
		Asset:       req.Asset,
		Network:     req.Network,
		Destination: req.Destination,
		Amount:      req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
		case errors.Is(err, ledger.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, validation.ErrInvalidAddress):
			return fiber.NewError(http.StatusBadRequest, "invalid destination address")
		case errors.Is(err, fees.ErrUnsupportedNetwork):
			return fiber.NewError(http.StatusBadRequest, "unsupported network")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(res)
}

// Cancel cancels a pending withdrawal and releases the reserved funds.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	p, err := h.service.Cancel(c.UserContext(), c.Params("id"), middleware.CallerID(c))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "withdrawal not found")
		case errors.Is(err, ErrNotPending):
			return fiber.NewError(http.StatusConflict, "withdrawal already left pending")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(p)
}

// Get returns a single withdrawal owned by the caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.service.Get(c.UserContext(), c.Params("id"), middleware.CallerID(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "withdrawal not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(p)
}

// List returns the caller's withdrawal history, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	items, err := h.service.History(c.UserContext(), middleware.CallerID(c), limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"items": items})
}
