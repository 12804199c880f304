package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

type inMemoryStore struct {
	mu     sync.Mutex
	events []*Event
}

// NewInMemory creates an in-memory outbox store for tests and the dev-mode
// fallback.
func NewInMemory() Store {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Insert(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := evt
	s.events = append(s.events, &stored)
	return nil
}

func (s *inMemoryStore) Unpublished(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []Event
	for _, evt := range s.events {
		if evt.PublishedAt == nil {
			pending = append(pending, *evt)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Topic != pending[j].Topic {
			return pending[i].Topic < pending[j].Topic
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *inMemoryStore) MarkPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range s.events {
		if evt.ID == id {
			stamped := at
			evt.PublishedAt = &stamped
			return nil
		}
	}
	return nil
}

func (s *inMemoryStore) MarkFailed(_ context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range s.events {
		if evt.ID == id {
			evt.Attempts++
			evt.LastError = lastError
			return nil
		}
	}
	return nil
}
