package recurring

import (
	"errors"
	"time"
)

// Kind selects which pipeline a rule's executions flow through.
type Kind string

const (
	KindInternalTransfer Kind = "internal_transfer"
	KindPaymentLink      Kind = "payment_link"
	KindBankWire         Kind = "bank_wire"
)

// Frequency is how often an enabled rule materializes a transfer.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// FailurePolicy decides what happens when an execution fails.
type FailurePolicy string

const (
	// FailureSkip records the failure and moves on to the next period.
	FailureSkip FailurePolicy = "skip"
	// FailureRetry retries on following ticks up to MaxRetries before
	// skipping the period.
	FailureRetry FailurePolicy = "retry"
	// FailureDisable turns the rule off after the first failure.
	FailureDisable FailurePolicy = "disable"
)

var (
	// ErrNotFound indicates the rule does not exist or is not owned by the
	// caller.
	ErrNotFound = errors.New("recurring rule not found")

	// ErrDuplicateExecution indicates an execution row already exists for the
	// (rule, tick) pair; another worker materialized it first.
	ErrDuplicateExecution = errors.New("execution already recorded for tick")

	// ErrInvalidRule indicates a user-fixable shape problem with the rule.
	ErrInvalidRule = errors.New("invalid recurring rule")
)

// Rule is a deferred or repeating intent to execute a transfer. The rule row
// is mutable through the service; its executions never are.
type Rule struct {
	ID           string
	UserID       string
	Kind         Kind
	SourceAcct   string
	DestRef      string
	Asset        string
	Network      string
	Amount       int64
	Frequency    Frequency
	StartAt      time.Time
	EndAt        *time.Time
	Enabled      bool
	OnFailure    FailurePolicy
	MaxRetries   int
	FailureCount int
	NextRunAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Execution statuses.
const (
	ExecutionSuccess = "success"
	ExecutionFailed  = "failed"
)

// Execution is one immutable materialization attempt, keyed by
// (RuleID, ScheduledAt). ScheduledAt is the minute-truncated tick time, so a
// retry on a later tick gets its own row while concurrent workers on the
// same tick collide on the natural key.
type Execution struct {
	RuleID      string    `json:"rule_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at"`
}

// NextAfter advances a run time by one period.
func NextAfter(t time.Time, freq Frequency) time.Time {
	switch freq {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// Due reports whether the rule should materialize at now.
func (r Rule) Due(now time.Time) bool {
	if !r.Enabled || r.NextRunAt.After(now) {
		return false
	}
	if r.EndAt != nil && r.EndAt.Before(now) {
		return false
	}
	return true
}

// Projection is the caller-facing view of a rule.
type Projection struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	SourceAcct string        `json:"source_account"`
	DestRef    string        `json:"destination_ref"`
	Asset      string        `json:"asset"`
	Network    string        `json:"network,omitempty"`
	Amount     int64         `json:"amount"`
	Frequency  Frequency     `json:"frequency"`
	StartAt    time.Time     `json:"start_at"`
	EndAt      *time.Time    `json:"end_at,omitempty"`
	Enabled    bool          `json:"enabled"`
	OnFailure  FailurePolicy `json:"on_failure"`
	MaxRetries int           `json:"max_retries"`
	NextRunAt  time.Time     `json:"next_run_at"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Project maps a rule to its external view.
func Project(r Rule) Projection {
	return Projection{
		ID:         r.ID,
		Kind:       r.Kind,
		SourceAcct: r.SourceAcct,
		DestRef:    r.DestRef,
		Asset:      r.Asset,
		Network:    r.Network,
		Amount:     r.Amount,
		Frequency:  r.Frequency,
		StartAt:    r.StartAt,
		EndAt:      r.EndAt,
		Enabled:    r.Enabled,
		OnFailure:  r.OnFailure,
		MaxRetries: r.MaxRetries,
		NextRunAt:  r.NextRunAt,
		CreatedAt:  r.CreatedAt,
	}
}
