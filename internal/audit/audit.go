package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable row of the audit trail. Entries reference the
// operation and the actor; they are appended and never updated.
type Entry struct {
	ID         string
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Detail     []byte
	CreatedAt  time.Time
}

// NewEntry builds an entry with a JSON-encoded detail snapshot. Detail must
// already be masked by the caller; nothing here redacts.
func NewEntry(actor, action, entityType, entityID string, detail any) Entry {
	body, err := json.Marshal(detail)
	if err != nil {
		body = []byte(`{}`)
	}
	return Entry{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     body,
		CreatedAt:  time.Now().UTC(),
	}
}

// Store is the durable append-only audit collaborator.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
	ByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
}

const recentRingSize = 128

// Recorder writes entries to the durable store and keeps a small in-process
// ring of recent entries for operational telemetry. The ring is not the
// audit record; losing it on restart is fine.
type Recorder struct {
	store Store

	mu   sync.Mutex
	ring []Entry
	next int
}

// NewRecorder wraps a durable store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, ring: make([]Entry, 0, recentRingSize)}
}

// Record appends the entry durably, then caches it.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if err := r.store.Insert(ctx, entry); err != nil {
		return err
	}
	r.remember(entry)
	return nil
}

// Observe caches an entry that was already persisted elsewhere, typically
// inside a store transaction that wrote it via InsertTx.
func (r *Recorder) Observe(entry Entry) {
	r.remember(entry)
}

func (r *Recorder) remember(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) < recentRingSize {
		r.ring = append(r.ring, entry)
		return
	}
	r.ring[r.next] = entry
	r.next = (r.next + 1) % recentRingSize
}

// Recent returns the cached entries, newest last.
func (r *Recorder) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	out = append(out, r.ring[:r.next]...)
	return out
}
