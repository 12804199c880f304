package recurring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-markets/treasury/internal/ledger"
	"github.com/meridian-markets/treasury/internal/logging"
)

type scriptedExecutor struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (e *scriptedExecutor) Execute(_ context.Context, _ Rule, _ time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return "", errors.New("downstream unavailable")
	}
	return uuid.NewString(), nil
}

func testRule(kind Kind, policy FailurePolicy, maxRetries int, start time.Time) Rule {
	now := time.Now().UTC()
	return Rule{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		Kind:       kind,
		SourceAcct: "user-1",
		DestRef:    "acct-dest",
		Asset:      "USDC",
		Amount:     1_000,
		Frequency:  FrequencyMonthly,
		StartAt:    start,
		Enabled:    true,
		OnFailure:  policy,
		MaxRetries: maxRetries,
		NextRunAt:  start,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newScheduler(store Store, executors map[Kind]Executor, workers int) *Scheduler {
	return NewScheduler(store, NewMemoryClaimer(), executors, workers, logging.Discard())
}

func TestTickMaterializesDueRuleOnce(t *testing.T) {
	store := NewMemoryStore()
	exec := &scriptedExecutor{}
	sched := newScheduler(store, map[Kind]Executor{KindBankWire: exec}, 4)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := testRule(KindBankWire, FailureSkip, 0, start)
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	now := start.Add(time.Hour)
	sched.Tick(ctx, now)

	execs, err := store.Executions(ctx, rule.ID, "", 10)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != ExecutionSuccess {
		t.Fatalf("expected one success execution, got %+v", execs)
	}

	updated, _ := store.GetRule(ctx, rule.ID, "")
	if !updated.NextRunAt.Equal(NextAfter(start, FrequencyMonthly)) {
		t.Fatalf("next run not advanced: %v", updated.NextRunAt)
	}

	// The same tick re-run must not materialize again.
	sched.Tick(ctx, now)
	if execs, _ = store.Executions(ctx, rule.ID, "", 10); len(execs) != 1 {
		t.Fatalf("same tick ran twice: %+v", execs)
	}
}

func TestConcurrentWorkersMaterializeExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	exec := &scriptedExecutor{}
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := testRule(KindBankWire, FailureSkip, 0, start)
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// Two scheduler instances share the store and the claimer, as two
	// replicas would share Postgres and Redis.
	claims := NewMemoryClaimer()
	a := NewScheduler(store, claims, map[Kind]Executor{KindBankWire: exec}, 4, logging.Discard())
	b := NewScheduler(store, claims, map[Kind]Executor{KindBankWire: exec}, 4, logging.Discard())

	now := start.Add(time.Minute)
	var wg sync.WaitGroup
	for _, sched := range []*Scheduler{a, b} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Tick(ctx, now)
		}(sched)
	}
	wg.Wait()

	execs, _ := store.Executions(ctx, rule.ID, "", 10)
	if len(execs) != 1 {
		t.Fatalf("expected exactly one execution for the tick, got %d", len(execs))
	}
}

func TestRetryPolicyAdvancesOnlyAfterSuccess(t *testing.T) {
	store := NewMemoryStore()
	exec := &scriptedExecutor{failures: 2}
	sched := newScheduler(store, map[Kind]Executor{KindBankWire: exec}, 1)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := testRule(KindBankWire, FailureRetry, 3, start)
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// Three consecutive ticks: fail, fail, succeed.
	for i := 0; i < 3; i++ {
		sched.Tick(ctx, start.Add(time.Duration(i)*time.Minute))

		updated, _ := store.GetRule(ctx, rule.ID, "")
		if i < 2 && !updated.NextRunAt.Equal(start) {
			t.Fatalf("tick %d: next run advanced before success: %v", i, updated.NextRunAt)
		}
	}

	execs, _ := store.Executions(ctx, rule.ID, "", 10)
	if len(execs) != 3 {
		t.Fatalf("expected 3 execution rows, got %d", len(execs))
	}
	failed, success := 0, 0
	for _, e := range execs {
		switch e.Status {
		case ExecutionFailed:
			failed++
		case ExecutionSuccess:
			success++
		}
	}
	if failed != 2 || success != 1 {
		t.Fatalf("expected 2 failed + 1 success, got %d/%d", failed, success)
	}

	updated, _ := store.GetRule(ctx, rule.ID, "")
	if !updated.NextRunAt.Equal(NextAfter(start, FrequencyMonthly)) {
		t.Fatalf("next run not advanced after success: %v", updated.NextRunAt)
	}
	if updated.FailureCount != 0 {
		t.Fatalf("failure count not reset: %d", updated.FailureCount)
	}
}

func TestRetryExhaustionSkipsPeriod(t *testing.T) {
	store := NewMemoryStore()
	exec := &scriptedExecutor{failures: 100}
	sched := newScheduler(store, map[Kind]Executor{KindBankWire: exec}, 1)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := testRule(KindBankWire, FailureRetry, 2, start)
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	sched.Tick(ctx, start)
	sched.Tick(ctx, start.Add(time.Minute))

	updated, _ := store.GetRule(ctx, rule.ID, "")
	if !updated.NextRunAt.Equal(NextAfter(start, FrequencyMonthly)) {
		t.Fatalf("exhausted retries must skip the period, next run %v", updated.NextRunAt)
	}
	if !updated.Enabled {
		t.Fatalf("retry policy must not disable the rule")
	}
}

func TestDisablePolicyTurnsRuleOff(t *testing.T) {
	store := NewMemoryStore()
	exec := &scriptedExecutor{failures: 100}
	sched := newScheduler(store, map[Kind]Executor{KindBankWire: exec}, 1)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := testRule(KindBankWire, FailureDisable, 0, start)
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	sched.Tick(ctx, start)

	updated, _ := store.GetRule(ctx, rule.ID, "")
	if updated.Enabled {
		t.Fatalf("disable policy left the rule enabled")
	}
	sched.Tick(ctx, start.Add(time.Minute))
	if execs, _ := store.Executions(ctx, rule.ID, "", 10); len(execs) != 1 {
		t.Fatalf("disabled rule still executing: %+v", execs)
	}
}

func TestExpiredRuleIsNotDue(t *testing.T) {
	store := NewMemoryStore()
	exec := &scriptedExecutor{}
	sched := newScheduler(store, map[Kind]Executor{KindBankWire: exec}, 1)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)
	rule := testRule(KindBankWire, FailureSkip, 0, start)
	rule.EndAt = &end
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	sched.Tick(ctx, end.AddDate(0, 0, 1))
	if execs, _ := store.Executions(ctx, rule.ID, "", 10); len(execs) != 0 {
		t.Fatalf("rule past end date still executed: %+v", execs)
	}
}

func TestTransferExecutorIsIdempotentPerTick(t *testing.T) {
	lg := ledger.NewInMemory()
	ledger.SeedBalance(lg, "user-1", "USDC", 5_000)
	exec := NewTransferExecutor(lg)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := testRule(KindInternalTransfer, FailureSkip, 0, start)

	if _, err := exec.Execute(ctx, rule, start); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	// A replayed tick must not move funds twice.
	if _, err := exec.Execute(ctx, rule, start); err != nil {
		t.Fatalf("replayed execute: %v", err)
	}

	from := ledger.Snapshot(lg, "user-1", "USDC")
	to := ledger.Snapshot(lg, "acct-dest", "USDC")
	if from.Available != 4_000 || to.Available != 1_000 {
		t.Fatalf("replay moved funds twice: from=%+v to=%+v", from, to)
	}
}
