package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const claimTTL = 2 * time.Minute

// Scheduler materializes due rules into transfers on a minute tick. Each rule
// is single-owner per tick through an advisory claim; the execution row's
// (rule_id, scheduled_at) key backstops the claim should two workers race
// past it.
type Scheduler struct {
	store     Store
	claims    Claimer
	executors map[Kind]Executor
	workers   int
	batch     int
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewScheduler wires the scheduler. The executor set is fixed at startup.
func NewScheduler(store Store, claims Claimer, executors map[Kind]Executor, workers int, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		store:     store,
		claims:    claims,
		executors: executors,
		workers:   workers,
		batch:     200,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start begins ticking once per minute.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Tick(ctx, time.Now())
	})
	if err != nil {
		return fmt.Errorf("register scheduler tick: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts ticking and waits for in-flight rule evaluations.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick evaluates every due rule once. A rule's failure never aborts the rest
// of the batch. Exported so tests can drive ticks directly.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	tick := now.UTC().Truncate(time.Minute)

	rules, err := s.store.DueRules(ctx, now.UTC(), s.batch)
	if err != nil {
		s.logger.Error("due rule query failed", "error", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rule := range rules {
		rule := rule
		g.Go(func() error {
			s.runRule(ctx, rule, tick)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runRule(ctx context.Context, rule Rule, tick time.Time) {
	claimKey := fmt.Sprintf("%s:%d", rule.ID, tick.Unix())
	owned, err := s.claims.Claim(ctx, claimKey, claimTTL)
	if err != nil {
		s.logger.Error("advisory claim failed", "rule_id", rule.ID, "error", err)
		return
	}
	if !owned {
		return
	}

	executor, ok := s.executors[rule.Kind]
	if !ok {
		s.logger.Error("no executor for rule kind", "rule_id", rule.ID, "kind", rule.Kind)
		return
	}

	reference, execErr := executor.Execute(ctx, rule, tick)

	execution := Execution{
		RuleID:      rule.ID,
		ScheduledAt: tick,
		Status:      ExecutionSuccess,
		Reference:   reference,
		CreatedAt:   time.Now().UTC(),
	}
	if execErr != nil {
		execution.Status = ExecutionFailed
		execution.Detail = execErr.Error()
	}

	if err := s.store.RecordExecution(ctx, execution); err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			// Another worker materialized this tick; leave the rule alone.
			return
		}
		s.logger.Error("record execution failed", "rule_id", rule.ID, "error", err)
		return
	}

	if execErr == nil {
		rule.NextRunAt = NextAfter(rule.NextRunAt, rule.Frequency)
		rule.FailureCount = 0
	} else {
		s.logger.Warn("rule execution failed",
			"rule_id", rule.ID, "kind", rule.Kind, "policy", rule.OnFailure, "error", execErr)
		s.applyFailurePolicy(&rule)
	}

	if err := s.store.SaveTickOutcome(ctx, rule); err != nil {
		s.logger.Error("save tick outcome failed", "rule_id", rule.ID, "error", err)
	}
}

// applyFailurePolicy mutates the rule's scheduling fields after a failed
// execution. Retry leaves NextRunAt in the past so the next tick picks the
// rule up again until the attempts are spent, then the period is skipped.
func (s *Scheduler) applyFailurePolicy(rule *Rule) {
	switch rule.OnFailure {
	case FailureRetry:
		rule.FailureCount++
		if rule.FailureCount >= rule.MaxRetries {
			rule.NextRunAt = NextAfter(rule.NextRunAt, rule.Frequency)
			rule.FailureCount = 0
		}
	case FailureDisable:
		rule.Enabled = false
	default: // FailureSkip
		rule.NextRunAt = NextAfter(rule.NextRunAt, rule.Frequency)
	}
}
