package withdrawal

import (
	"errors"
	"time"

	"github.com/meridian-markets/treasury/internal/fees"
)

// Status is the lifecycle state of a withdrawal request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusBroadcast Status = "broadcast"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outbox topics emitted by the state machine.
const (
	TopicCreated   = "withdrawal.created"
	TopicCancelled = "withdrawal.cancelled"
	TopicQueued    = "withdrawal.queued"
	TopicBroadcast = "withdrawal.broadcast"
	TopicConfirmed = "withdrawal.confirmed"
	TopicFailed    = "withdrawal.failed"
)

var (
	// ErrNotFound indicates the withdrawal does not exist or is not owned by
	// the caller.
	ErrNotFound = errors.New("withdrawal not found")

	// ErrNotPending indicates a cancel on a request that already left the
	// pending state.
	ErrNotPending = errors.New("withdrawal is not pending")

	// ErrInvalidTransition indicates a lifecycle move the state machine does
	// not permit.
	ErrInvalidTransition = errors.New("invalid status transition")
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusBroadcast, StatusFailed},
	StatusBroadcast: {StatusConfirmed, StatusFailed},
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Terminal statuses permit nothing.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Withdrawal is a request to move funds off-platform. Destination holds the
// raw address for the broadcast collaborator only; every projection exposes
// MaskedDestination instead.
type Withdrawal struct {
	ID                string
	UserID            string
	Asset             string
	Network           string
	Destination       string
	MaskedDestination string
	Amount            int64
	Fee               fees.Estimate
	Total             int64
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Projection is the caller-facing view of a withdrawal.
type Projection struct {
	ID          string        `json:"id"`
	Asset       string        `json:"asset"`
	Network     string        `json:"network"`
	Destination string        `json:"destination"`
	Amount      int64         `json:"amount"`
	Fee         fees.Estimate `json:"fee"`
	Total       int64         `json:"total"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Project maps a withdrawal to its external view, masked destination only.
func Project(w Withdrawal) Projection {
	return Projection{
		ID:          w.ID,
		Asset:       w.Asset,
		Network:     w.Network,
		Destination: w.MaskedDestination,
		Amount:      w.Amount,
		Fee:         w.Fee,
		Total:       w.Total,
		Status:      w.Status,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}
