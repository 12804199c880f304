package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridian-markets/treasury/internal/audit"
	"github.com/meridian-markets/treasury/internal/logging"
)

func newTestService() (*Service, Store) {
	store := NewMemoryStore()
	return NewService(store, audit.NewRecorder(audit.NewInMemory()), logging.Discard()), store
}

func validInput() CreateInput {
	return CreateInput{
		UserID:     "user-1",
		Kind:       KindInternalTransfer,
		SourceAcct: "user-1",
		DestRef:    "acct-dest",
		Asset:      "USDC",
		Amount:     2_500,
		Frequency:  FrequencyWeekly,
		StartAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		OnFailure:  FailureSkip,
	}
}

func TestCreateRuleSetsFirstRun(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.Enabled {
		t.Fatalf("new rule must start enabled")
	}

	r, err := store.GetRule(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r.NextRunAt.Equal(r.StartAt) {
		t.Fatalf("first run %v != start %v", r.NextRunAt, r.StartAt)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"zero amount", func(in *CreateInput) { in.Amount = 0 }},
		{"unknown kind", func(in *CreateInput) { in.Kind = "lottery" }},
		{"unknown frequency", func(in *CreateInput) { in.Frequency = "hourly" }},
		{"missing destination", func(in *CreateInput) { in.DestRef = "" }},
		{"retry without budget", func(in *CreateInput) { in.OnFailure = FailureRetry; in.MaxRetries = 0 }},
		{"end before start", func(in *CreateInput) {
			end := in.StartAt.Add(-time.Hour)
			in.EndAt = &end
		}},
	}
	for _, tc := range cases {
		in := validInput()
		tc.mutate(&in)
		if _, err := svc.Create(ctx, in); !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("%s: expected ErrInvalidRule, got %v", tc.name, err)
		}
	}
}

func TestUpdateDoesNotTouchHistory(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	exec := Execution{
		RuleID:      p.ID,
		ScheduledAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:      ExecutionSuccess,
		Reference:   "ref-1",
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("record execution: %v", err)
	}

	updated, err := svc.Update(ctx, p.ID, "user-1", UpdateInput{Amount: 9_999})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Amount != 9_999 {
		t.Fatalf("amount not updated: %d", updated.Amount)
	}

	execs, err := svc.Executions(ctx, p.ID, "user-1", 10)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Reference != "ref-1" {
		t.Fatalf("history changed: %+v", execs)
	}
}

func TestToggleResetsFailureCount(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r, _ := store.GetRule(ctx, p.ID, "")
	r.FailureCount = 2
	if err := store.UpdateRule(ctx, r); err != nil {
		t.Fatalf("seed failure count: %v", err)
	}

	if _, err := svc.Toggle(ctx, p.ID, "user-1", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	r, _ = store.GetRule(ctx, p.ID, "")
	if r.Enabled || r.FailureCount != 0 {
		t.Fatalf("disable must reset retry counter: %+v", r)
	}
}

func TestDuplicateStartsDisabled(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	copy, err := svc.Duplicate(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if copy.ID == p.ID {
		t.Fatalf("duplicate reused the id")
	}
	if copy.Enabled {
		t.Fatalf("duplicate must start disabled")
	}
}

func TestDeleteSoftDisablesRuleWithHistory(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	// Without executions the rule is removed outright.
	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Delete(ctx, p.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRule(ctx, p.ID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rule without history should be gone, got %v", err)
	}

	// With executions the rule survives, disabled.
	p, err = svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	exec := Execution{
		RuleID:      p.ID,
		ScheduledAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:      ExecutionSuccess,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("record execution: %v", err)
	}
	if _, err := svc.Delete(ctx, p.ID, "user-1"); err != nil {
		t.Fatalf("delete with history: %v", err)
	}
	r, err := store.GetRule(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("rule with history must survive delete: %v", err)
	}
	if r.Enabled {
		t.Fatalf("rule with history must be disabled by delete")
	}
}

func TestRulesAreScopedToOwner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get(ctx, p.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign user must not see the rule, got %v", err)
	}
	rules, err := svc.List(ctx, "user-2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("foreign user listed rules: %+v", rules)
	}
}

func TestNextAfterFrequencies(t *testing.T) {
	base := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	if got := NextAfter(base, FrequencyDaily); !got.Equal(base.AddDate(0, 0, 1)) {
		t.Fatalf("daily: %v", got)
	}
	if got := NextAfter(base, FrequencyWeekly); !got.Equal(base.AddDate(0, 0, 7)) {
		t.Fatalf("weekly: %v", got)
	}
	// Month arithmetic follows time.AddDate normalization.
	if got := NextAfter(base, FrequencyMonthly); !got.Equal(base.AddDate(0, 1, 0)) {
		t.Fatalf("monthly: %v", got)
	}
}
