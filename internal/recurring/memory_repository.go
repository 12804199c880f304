package recurring

import (
	"context"
	"sort"
	"sync"
	"time"
)

type executionKey struct {
	ruleID string
	tick   time.Time
}

type memoryStore struct {
	mu         sync.Mutex
	rules      map[string]Rule
	executions map[executionKey]Execution
}

// NewMemoryStore constructs an in-memory store for tests and the dev-mode
// fallback.
func NewMemoryStore() Store {
	return &memoryStore{
		rules:      make(map[string]Rule),
		executions: make(map[executionKey]Execution),
	}
}

func (s *memoryStore) CreateRule(_ context.Context, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *memoryStore) UpdateRule(_ context.Context, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok || existing.UserID != r.UserID {
		return ErrNotFound
	}
	s.rules[r.ID] = r
	return nil
}

func (s *memoryStore) GetRule(_ context.Context, id, userID string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || (userID != "" && r.UserID != userID) {
		return Rule{}, ErrNotFound
	}
	return r, nil
}

func (s *memoryStore) ListRules(_ context.Context, userID string) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Rule
	for _, r := range s.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) DeleteRule(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return false, nil
	}
	for key := range s.executions {
		if key.ruleID == id {
			return false, nil
		}
	}
	delete(s.rules, id)
	return true, nil
}

func (s *memoryStore) DueRules(_ context.Context, now time.Time, limit int) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Rule
	for _, r := range s.rules {
		if r.Due(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) RecordExecution(_ context.Context, e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := executionKey{ruleID: e.RuleID, tick: e.ScheduledAt}
	if _, exists := s.executions[key]; exists {
		return ErrDuplicateExecution
	}
	s.executions[key] = e
	return nil
}

func (s *memoryStore) Executions(_ context.Context, ruleID, userID string, limit int) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != "" {
		if r, ok := s.rules[ruleID]; !ok || r.UserID != userID {
			return nil, ErrNotFound
		}
	}
	var out []Execution
	for key, e := range s.executions {
		if key.ruleID == ruleID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) SaveTickOutcome(_ context.Context, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Enabled = r.Enabled
	existing.FailureCount = r.FailureCount
	existing.NextRunAt = r.NextRunAt
	existing.UpdatedAt = time.Now().UTC()
	s.rules[r.ID] = existing
	return nil
}
