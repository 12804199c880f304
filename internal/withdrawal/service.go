package withdrawal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-markets/treasury/internal/audit"
	"github.com/meridian-markets/treasury/internal/fees"
	"github.com/meridian-markets/treasury/internal/outbox"
	"github.com/meridian-markets/treasury/internal/validation"
)

// Service drives the withdrawal lifecycle. It owns status transitions but
// never mutates balances directly; every ledger effect rides inside the
// store's transaction.
type Service struct {
	store     Store
	estimator *fees.Estimator
	validator validation.AddressValidator
	trail     *audit.Recorder
	logger    *slog.Logger
}

// NewService constructs a withdrawal service. The recorder feeds the recent-
// activity telemetry ring; the durable audit write rides the store
// transaction.
func NewService(store Store, estimator *fees.Estimator, validator validation.AddressValidator, trail *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, estimator: estimator, validator: validator, trail: trail, logger: logger}
}

func (s *Service) observe(entry audit.Entry) {
	if s.trail != nil {
		s.trail.Observe(entry)
	}
}

// CreateInput captures the data needed to request a withdrawal. RequestID is
// optional: system callers that may redeliver the same unit of work (the
// recurring scheduler) supply a deterministic id so a retry replays the
// original reservation instead of repeating it.
type CreateInput struct {
	RequestID   string
	UserID      string
	Asset       string
	Network     string
	Destination string
	Amount      int64
}

// CreateResult describes the accepted request.
type CreateResult struct {
	WithdrawalID string        `json:"withdrawal_id"`
	Status       Status        `json:"status"`
	FeeEstimate  fees.Estimate `json:"fee_estimate"`
	TotalAmount  int64         `json:"total_amount"`
}

type eventPayload struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	Network      string `json:"network"`
	Destination  string `json:"destination"`
	Amount       int64  `json:"amount"`
	Total        int64  `json:"total"`
	Status       Status `json:"status"`
}

func payloadFor(w Withdrawal) eventPayload {
	return eventPayload{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Asset:        w.Asset,
		Network:      w.Network,
		Destination:  w.MaskedDestination,
		Amount:       w.Amount,
		Total:        w.Total,
		Status:       w.Status,
	}
}

// Create validates the request, estimates fees and atomically reserves
// amount+fee under the new request's id. A reservation failure persists
// nothing and surfaces ledger.ErrInsufficientFunds to the caller.
func (s *Service) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if err := s.validator.ValidateAddress(input.Asset, input.Network, input.Destination); err != nil {
		return CreateResult{}, err
	}
	estimate, err := s.estimator.Estimate(input.Asset, input.Network, input.Amount)
	if err != nil {
		return CreateResult{}, err
	}

	id := input.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	w := Withdrawal{
		ID:                id,
		UserID:            input.UserID,
		Asset:             input.Asset,
		Network:           input.Network,
		Destination:       input.Destination,
		MaskedDestination: validation.MaskAddress(input.Destination),
		Amount:            input.Amount,
		Fee:               estimate,
		Total:             input.Amount + estimate.TotalFee,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	evt, err := outbox.NewEvent(TopicCreated, payloadFor(w))
	if err != nil {
		return CreateResult{}, err
	}
	entry := audit.NewEntry(input.UserID, "withdrawal.create", "withdrawal", w.ID, payloadFor(w))

	if err := s.store.Create(ctx, w, evt, entry); err != nil {
		return CreateResult{}, err
	}
	s.observe(entry)

	s.logger.Info("withdrawal created",
		"withdrawal_id", w.ID, "user_id", w.UserID, "asset", w.Asset, "network", w.Network, "total", w.Total)

	return CreateResult{
		WithdrawalID: w.ID,
		Status:       w.Status,
		FeeEstimate:  estimate,
		TotalAmount:  w.Total,
	}, nil
}

// Cancel moves a pending withdrawal to cancelled and releases its
// reservation. Only pending requests can be cancelled; retried cancels are
// safe and replay the cancelled row.
func (s *Service) Cancel(ctx context.Context, id, userID string) (Projection, error) {
	current, err := s.store.Get(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}

	target := current
	target.Status = StatusCancelled
	evt, err := outbox.NewEvent(TopicCancelled, payloadFor(target))
	if err != nil {
		return Projection{}, err
	}
	entry := audit.NewEntry(userID, "withdrawal.cancel", "withdrawal", id, payloadFor(target))

	w, err := s.store.Transition(ctx, id, userID, StatusCancelled, evt, entry)
	if err != nil {
		return Projection{}, err
	}
	s.observe(entry)

	s.logger.Info("withdrawal cancelled", "withdrawal_id", id, "user_id", userID)
	return Project(w), nil
}

// Get returns the caller-facing projection of one withdrawal.
func (s *Service) Get(ctx context.Context, id, userID string) (Projection, error) {
	w, err := s.store.Get(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}
	return Project(w), nil
}

// History lists the caller's withdrawals, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Projection, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Projection, 0, len(list))
	for _, w := range list {
		out = append(out, Project(w))
	}
	return out, nil
}

// systemActor marks transitions driven by the reconciliation collaborator
// rather than a user.
const systemActor = "system"

// MarkQueued hands a pending request to the broadcast pipeline.
func (s *Service) MarkQueued(ctx context.Context, id string) (Withdrawal, error) {
	return s.transition(ctx, id, StatusQueued, TopicQueued)
}

// MarkBroadcast records that the transaction was sent to the network.
func (s *Service) MarkBroadcast(ctx context.Context, id string) (Withdrawal, error) {
	return s.transition(ctx, id, StatusBroadcast, TopicBroadcast)
}

// MarkConfirmed finalizes the request and commits its reservation; the funds
// have left the system.
func (s *Service) MarkConfirmed(ctx context.Context, id string) (Withdrawal, error) {
	return s.transition(ctx, id, StatusConfirmed, TopicConfirmed)
}

// MarkFailed terminates the request and releases its reservation back to the
// account.
func (s *Service) MarkFailed(ctx context.Context, id string) (Withdrawal, error) {
	return s.transition(ctx, id, StatusFailed, TopicFailed)
}

func (s *Service) transition(ctx context.Context, id string, to Status, topic string) (Withdrawal, error) {
	current, err := s.store.Get(ctx, id, "")
	if err != nil {
		return Withdrawal{}, err
	}

	target := current
	target.Status = to
	evt, err := outbox.NewEvent(topic, payloadFor(target))
	if err != nil {
		return Withdrawal{}, err
	}
	entry := audit.NewEntry(systemActor, "withdrawal."+string(to), "withdrawal", id, payloadFor(target))

	w, err := s.store.Transition(ctx, id, "", to, evt, entry)
	if err != nil {
		return Withdrawal{}, err
	}
	s.observe(entry)
	s.logger.Info("withdrawal transitioned", "withdrawal_id", id, "status", to)
	return w, nil
}
