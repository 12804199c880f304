package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-markets/treasury/internal/audit"
)

// Service owns rule CRUD. Executions are written only by the scheduler;
// nothing here ever mutates history.
type Service struct {
	store  Store
	trail  *audit.Recorder
	logger *slog.Logger
}

// NewService constructs a recurring-rule service.
func NewService(store Store, trail *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, trail: trail, logger: logger}
}

// CreateInput captures a new rule request.
type CreateInput struct {
	UserID     string
	Kind       Kind
	SourceAcct string
	DestRef    string
	Asset      string
	Network    string
	Amount     int64
	Frequency  Frequency
	StartAt    time.Time
	EndAt      *time.Time
	OnFailure  FailurePolicy
	MaxRetries int
}

func (in CreateInput) validate() error {
	switch in.Kind {
	case KindInternalTransfer, KindPaymentLink, KindBankWire:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, in.Kind)
	}
	switch in.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, in.Frequency)
	}
	switch in.OnFailure {
	case FailureSkip, FailureRetry, FailureDisable:
	default:
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidRule, in.OnFailure)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRule)
	}
	if in.SourceAcct == "" || in.DestRef == "" || in.Asset == "" {
		return fmt.Errorf("%w: source, destination and asset are required", ErrInvalidRule)
	}
	if in.StartAt.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidRule)
	}
	if in.EndAt != nil && in.EndAt.Before(in.StartAt) {
		return fmt.Errorf("%w: end time precedes start time", ErrInvalidRule)
	}
	if in.OnFailure == FailureRetry && in.MaxRetries <= 0 {
		return fmt.Errorf("%w: retry policy requires max retries", ErrInvalidRule)
	}
	return nil
}

// Create registers a rule; its first run is the start time.
func (s *Service) Create(ctx context.Context, input CreateInput) (Projection, error) {
	if err := input.validate(); err != nil {
		return Projection{}, err
	}

	now := time.Now().UTC()
	r := Rule{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		Kind:       input.Kind,
		SourceAcct: input.SourceAcct,
		DestRef:    input.DestRef,
		Asset:      input.Asset,
		Network:    input.Network,
		Amount:     input.Amount,
		Frequency:  input.Frequency,
		StartAt:    input.StartAt.UTC(),
		EndAt:      input.EndAt,
		Enabled:    true,
		OnFailure:  input.OnFailure,
		MaxRetries: input.MaxRetries,
		NextRunAt:  input.StartAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRule(ctx, r); err != nil {
		return Projection{}, err
	}

	s.record(ctx, input.UserID, "recurring.create", r)
	return Project(r), nil
}

// UpdateInput carries the mutable rule fields.
type UpdateInput struct {
	DestRef    string
	Amount     int64
	Frequency  Frequency
	EndAt      *time.Time
	OnFailure  FailurePolicy
	MaxRetries int
}

// Update mutates the rule row. Past executions are untouched.
func (s *Service) Update(ctx context.Context, id, userID string, input UpdateInput) (Projection, error) {
	r, err := s.store.GetRule(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}

	if input.DestRef != "" {
		r.DestRef = input.DestRef
	}
	if input.Amount > 0 {
		r.Amount = input.Amount
	}
	if input.Frequency != "" {
		r.Frequency = input.Frequency
	}
	if input.EndAt != nil {
		r.EndAt = input.EndAt
	}
	if input.OnFailure != "" {
		r.OnFailure = input.OnFailure
	}
	if input.MaxRetries > 0 {
		r.MaxRetries = input.MaxRetries
	}
	r.UpdatedAt = time.Now().UTC()

	check := CreateInput{
		UserID: r.UserID, Kind: r.Kind, SourceAcct: r.SourceAcct, DestRef: r.DestRef,
		Asset: r.Asset, Network: r.Network, Amount: r.Amount, Frequency: r.Frequency,
		StartAt: r.StartAt, EndAt: r.EndAt, OnFailure: r.OnFailure, MaxRetries: r.MaxRetries,
	}
	if err := check.validate(); err != nil {
		return Projection{}, err
	}

	if err := s.store.UpdateRule(ctx, r); err != nil {
		return Projection{}, err
	}
	s.record(ctx, userID, "recurring.update", r)
	return Project(r), nil
}

// Toggle enables or disables the rule. Disabling resets the retry counter.
func (s *Service) Toggle(ctx context.Context, id, userID string, enabled bool) (Projection, error) {
	r, err := s.store.GetRule(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}
	r.Enabled = enabled
	if !enabled {
		r.FailureCount = 0
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateRule(ctx, r); err != nil {
		return Projection{}, err
	}
	s.record(ctx, userID, "recurring.toggle", r)
	return Project(r), nil
}

// Duplicate copies a rule under a new id, disabled, so the owner can adjust
// it before enabling.
func (s *Service) Duplicate(ctx context.Context, id, userID string) (Projection, error) {
	r, err := s.store.GetRule(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Enabled = false
	r.FailureCount = 0
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.store.CreateRule(ctx, r); err != nil {
		return Projection{}, err
	}
	s.record(ctx, userID, "recurring.duplicate", r)
	return Project(r), nil
}

// Delete hard-deletes a rule without executions; one with history is
// soft-disabled instead so execution rows keep a valid parent.
func (s *Service) Delete(ctx context.Context, id, userID string) (Projection, error) {
	deleted, err := s.store.DeleteRule(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}
	if deleted {
		s.logger.Info("recurring rule deleted", "rule_id", id, "user_id", userID)
		return Projection{ID: id, Enabled: false}, nil
	}
	return s.Toggle(ctx, id, userID, false)
}

// Get returns one rule projection.
func (s *Service) Get(ctx context.Context, id, userID string) (Projection, error) {
	r, err := s.store.GetRule(ctx, id, userID)
	if err != nil {
		return Projection{}, err
	}
	return Project(r), nil
}

// List returns the caller's rules.
func (s *Service) List(ctx context.Context, userID string) ([]Projection, error) {
	rules, err := s.store.ListRules(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Projection, 0, len(rules))
	for _, r := range rules {
		out = append(out, Project(r))
	}
	return out, nil
}

// Executions returns the rule's materialization history, newest first.
func (s *Service) Executions(ctx context.Context, id, userID string, limit int) ([]Execution, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.Executions(ctx, id, userID, limit)
}

func (s *Service) record(ctx context.Context, actor, action string, r Rule) {
	if s.trail == nil {
		return
	}
	entry := audit.NewEntry(actor, action, "recurring_rule", r.ID, Project(r))
	if err := s.trail.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed", "action", action, "rule_id", r.ID, "error", err)
	}
}
