package recurring

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/meridian-markets/treasury/internal/middleware"
)

// Handler exposes recurring-rule endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a recurring-rule handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ruleRequest struct {
	Kind       Kind          `json:"kind"`
	SourceAcct string        `json:"source_account"`
	DestRef    string        `json:"destination_ref"`
	Asset      string        `json:"asset"`
	Network    string        `json:"network"`
	Amount     int64         `json:"amount"`
	Frequency  Frequency     `json:"frequency"`
	StartAt    time.Time     `json:"start_at"`
	EndAt      *time.Time    `json:"end_at"`
	OnFailure  FailurePolicy `json:"on_failure"`
	MaxRetries int           `json:"max_retries"`
}

// Create registers a new recurring rule for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.OnFailure == "" {
		req.OnFailure = FailureSkip
	}

	p, err := h.service.Create(c.UserContext(), CreateInput{
		UserID:     middleware.CallerID(c),
		Kind:       req.Kind,
		SourceAcct: req.SourceAcct,
		DestRef:    req.DestRef,
		Asset:      req.Asset,
		Network:    req.Network,
		Amount:     req.Amount,
		Frequency:  req.Frequency,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		OnFailure:  req.OnFailure,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		return mapRuleError(err)
	}
	return c.Status(http.StatusCreated).JSON(p)
}

// Update mutates a rule's schedule or destination.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	p, err := h.service.Update(c.UserContext(), c.Params("id"), middleware.CallerID(c), UpdateInput{
		DestRef:    req.DestRef,
		Amount:     req.Amount,
		Frequency:  req.Frequency,
		EndAt:      req.EndAt,
		OnFailure:  req.OnFailure,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		return mapRuleError(err)
	}
	return c.JSON(p)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// Toggle enables or disables a rule.
func (h *Handler) Toggle(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Toggle(c.UserContext(), c.Params("id"), middleware.CallerID(c), req.Enabled)
	if err != nil {
		return mapRuleError(err)
	}
	return c.JSON(p)
}

// Duplicate copies a rule under a new id, disabled.
func (h *Handler) Duplicate(c *fiber.Ctx) error {
	p, err := h.service.Duplicate(c.UserContext(), c.Params("id"), middleware.CallerID(c))
	if err != nil {
		return mapRuleError(err)
	}
	return c.Status(http.StatusCreated).JSON(p)
}

// Delete removes a rule, or disables it when execution history exists.
func (h *Handler) Delete(c *fiber.Ctx) error {
	p, err := h.service.Delete(c.UserContext(), c.Params("id"), middleware.CallerID(c))
	if err != nil {
		return mapRuleError(err)
	}
	return c.JSON(p)
}

// Get returns one rule owned by the caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.service.Get(c.UserContext(), c.Params("id"), middleware.CallerID(c))
	if err != nil {
		return mapRuleError(err)
	}
	return c.JSON(p)
}

// List returns all rules owned by the caller.
func (h *Handler) List(c *fiber.Ctx) error {
	items, err := h.service.List(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"items": items})
}

// Executions returns a rule's execution history, newest first.
func (h *Handler) Executions(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	items, err := h.service.Executions(c.UserContext(), c.Params("id"), middleware.CallerID(c), limit)
	if err != nil {
		return mapRuleError(err)
	}
	return c.JSON(fiber.Map{"items": items})
}

func mapRuleError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "rule not found")
	case errors.Is(err, ErrInvalidRule):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
