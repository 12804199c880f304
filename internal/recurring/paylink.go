package recurring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-markets/treasury/internal/outbox"
)

// LinkSender represents the connector to the external payment-link provider.
type LinkSender interface {
	SendLink(ctx context.Context, req LinkRequest) (string, error)
}

// LinkRequest carries what the provider needs to issue a payment link.
type LinkRequest struct {
	UserID      string
	Destination string
	Asset       string
	Amount      int64
}

// StaticLinkSender simulates a successful provider integration with a
// synthetic reference. The real adapter replaces it without the scheduler
// noticing.
type StaticLinkSender struct{}

// SendLink approves the request with a synthetic reference.
func (StaticLinkSender) SendLink(_ context.Context, _ LinkRequest) (string, error) {
	return uuid.NewString(), nil
}

// PaymentLinkExecutor issues payment links for due rules and announces them
// through the outbox.
type PaymentLinkExecutor struct {
	sender LinkSender
	events outbox.Store
}

// NewPaymentLinkExecutor builds the payment-link executor. A nil sender
// falls back to the static stub.
func NewPaymentLinkExecutor(sender LinkSender, events outbox.Store) *PaymentLinkExecutor {
	if sender == nil {
		sender = StaticLinkSender{}
	}
	return &PaymentLinkExecutor{sender: sender, events: events}
}

// Execute requests a link from the provider and records the announcement.
func (e *PaymentLinkExecutor) Execute(ctx context.Context, rule Rule, scheduledAt time.Time) (string, error) {
	ref, err := e.sender.SendLink(ctx, LinkRequest{
		UserID:      rule.UserID,
		Destination: rule.DestRef,
		Asset:       rule.Asset,
		Amount:      rule.Amount,
	})
	if err != nil {
		return "", err
	}

	evt, err := outbox.NewEvent("payment_link.requested", map[string]any{
		"rule_id":      rule.ID,
		"user_id":      rule.UserID,
		"reference":    ref,
		"asset":        rule.Asset,
		"amount":       rule.Amount,
		"scheduled_at": scheduledAt,
	})
	if err != nil {
		return "", err
	}
	if err := e.events.Insert(ctx, evt); err != nil {
		return "", err
	}
	return ref, nil
}
