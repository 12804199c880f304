package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event written in the same transaction as the state
// change it announces, then relayed asynchronously for at-least-once
// delivery. Rows are never discarded; a failed publish leaves the row for
// a later retry.
type Event struct {
	ID          string
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int
	LastError   string
}

// NewEvent builds a pending event with a JSON-encoded payload.
func NewEvent(topic string, payload any) (Event, error) {
	if topic == "" {
		return Event{}, fmt.Errorf("outbox topic is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode outbox payload: %w", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Store persists outbox rows. Unpublished returns rows in (topic, creation)
// order so the relay can honor per-topic ordering.
type Store interface {
	Insert(ctx context.Context, evt Event) error
	Unpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string) error
}
