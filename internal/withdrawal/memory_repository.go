package withdrawal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridian-markets/treasury/internal/audit"
	"github.com/meridian-markets/treasury/internal/ledger"
	"github.com/meridian-markets/treasury/internal/outbox"
)

type memoryStore struct {
	mu      sync.Mutex
	ledger  ledger.Ledger
	events  outbox.Store
	trail   audit.Store
	storage map[string]Withdrawal
}

// NewMemoryStore constructs an in-memory store for tests and the dev-mode
// fallback. It composes the in-memory ledger, outbox and audit stores the
// same way the Postgres store composes its transaction.
func NewMemoryStore(lg ledger.Ledger, events outbox.Store, trail audit.Store) Store {
	return &memoryStore{
		ledger:  lg,
		events:  events,
		trail:   trail,
		storage: make(map[string]Withdrawal),
	}
}

func (s *memoryStore) Create(ctx context.Context, w Withdrawal, evt outbox.Event, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A caller-supplied id that already exists is a replay of an accepted
	// request: no second reservation, no second row.
	if _, ok := s.storage[w.ID]; ok {
		return nil
	}

	if _, err := s.ledger.Reserve(ctx, w.UserID, w.Asset, w.Total, w.ID); err != nil {
		return err
	}

	s.storage[w.ID] = w
	if err := s.events.Insert(ctx, evt); err != nil {
		return err
	}
	return s.trail.Insert(ctx, entry)
}

func (s *memoryStore) Transition(ctx context.Context, id, userID string, to Status, evt outbox.Event, entry audit.Entry) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.storage[id]
	if !ok || (userID != "" && w.UserID != userID) {
		return Withdrawal{}, ErrNotFound
	}

	replay, err := checkTransition(w.Status, to)
	if err != nil {
		return Withdrawal{}, err
	}
	if replay {
		return w, nil
	}

	switch to {
	case StatusCancelled, StatusFailed:
		if err := s.ledger.Release(ctx, w.UserID, w.Asset, w.ID); err != nil {
			return Withdrawal{}, err
		}
	case StatusConfirmed:
		if err := s.ledger.Commit(ctx, w.UserID, w.Asset, w.ID); err != nil {
			return Withdrawal{}, err
		}
	}

	w.Status = to
	w.UpdatedAt = time.Now().UTC()
	s.storage[id] = w

	if err := s.events.Insert(ctx, evt); err != nil {
		return Withdrawal{}, err
	}
	if err := s.trail.Insert(ctx, entry); err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

func (s *memoryStore) Get(_ context.Context, id, userID string) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.storage[id]
	if !ok || (userID != "" && w.UserID != userID) {
		return Withdrawal{}, ErrNotFound
	}
	return w, nil
}

func (s *memoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Withdrawal
	for _, w := range s.storage {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
