package recurring

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists rules and their append-only execution history.
type Store interface {
	CreateRule(ctx context.Context, r Rule) error
	UpdateRule(ctx context.Context, r Rule) error
	GetRule(ctx context.Context, id, userID string) (Rule, error)
	ListRules(ctx context.Context, userID string) ([]Rule, error)
	// DeleteRule removes the rule row only when no executions reference it
	// and reports whether a hard delete happened.
	DeleteRule(ctx context.Context, id, userID string) (bool, error)
	DueRules(ctx context.Context, now time.Time, limit int) ([]Rule, error)
	// RecordExecution appends one attempt; ErrDuplicateExecution on a
	// (rule_id, scheduled_at) collision.
	RecordExecution(ctx context.Context, e Execution) error
	Executions(ctx context.Context, ruleID, userID string, limit int) ([]Execution, error)
	// SaveTickOutcome persists the scheduling fields mutated by a tick.
	SaveTickOutcome(ctx context.Context, r Rule) error
}

// PostgresStore stores rules in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, user_id, kind, source_account, destination_ref, asset, network, amount,
    frequency, start_at, end_at, enabled, on_failure, max_retries, failure_count, next_run_at, created_at, updated_at`

func (s *PostgresStore) CreateRule(ctx context.Context, r Rule) error {
	const query = `
        INSERT INTO recurring_rules (` + ruleColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.db.Exec(ctx, query,
		r.ID, r.UserID, r.Kind, r.SourceAcct, r.DestRef, r.Asset, r.Network, r.Amount,
		r.Frequency, r.StartAt, r.EndAt, r.Enabled, r.OnFailure, r.MaxRetries, r.FailureCount,
		r.NextRunAt, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r Rule) error {
	const query = `
        UPDATE recurring_rules SET destination_ref = $3, amount = $4, frequency = $5,
            end_at = $6, enabled = $7, on_failure = $8, max_retries = $9,
            failure_count = $10, next_run_at = $11, updated_at = $12
        WHERE id = $1 AND user_id = $2`
	tag, err := s.db.Exec(ctx, query,
		r.ID, r.UserID, r.DestRef, r.Amount, r.Frequency, r.EndAt, r.Enabled,
		r.OnFailure, r.MaxRetries, r.FailureCount, r.NextRunAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id, userID string) (Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules WHERE id = $1`
	args := []any{id}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	return scanRule(s.db.QueryRow(ctx, query, args...))
}

func (s *PostgresStore) ListRules(ctx context.Context, userID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id, userID string) (bool, error) {
	const query = `
        DELETE FROM recurring_rules r WHERE r.id = $1 AND r.user_id = $2
        AND NOT EXISTS (SELECT 1 FROM recurring_rule_executions e WHERE e.rule_id = r.id)`
	tag, err := s.db.Exec(ctx, query, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DueRules(ctx context.Context, now time.Time, limit int) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules
        WHERE enabled AND next_run_at <= $1 AND (end_at IS NULL OR end_at >= $1)
        ORDER BY next_run_at LIMIT $2`
	rows, err := s.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *PostgresStore) RecordExecution(ctx context.Context, e Execution) error {
	const query = `
        INSERT INTO recurring_rule_executions (rule_id, scheduled_at, status, reference, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (rule_id, scheduled_at) DO NOTHING`
	tag, err := s.db.Exec(ctx, query, e.RuleID, e.ScheduledAt, e.Status, e.Reference, e.Detail, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateExecution
	}
	return nil
}

func (s *PostgresStore) Executions(ctx context.Context, ruleID, userID string, limit int) ([]Execution, error) {
	const query = `
        SELECT e.rule_id, e.scheduled_at, e.status, e.reference, e.detail, e.created_at
        FROM recurring_rule_executions e
        JOIN recurring_rules r ON r.id = e.rule_id
        WHERE e.rule_id = $1 AND ($2 = '' OR r.user_id = $2)
        ORDER BY e.scheduled_at DESC LIMIT $3`
	rows, err := s.db.Query(ctx, query, ruleID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.RuleID, &e.ScheduledAt, &e.Status, &e.Reference, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTickOutcome(ctx context.Context, r Rule) error {
	const query = `
        UPDATE recurring_rules SET enabled = $2, failure_count = $3, next_run_at = $4, updated_at = $5
        WHERE id = $1`
	_, err := s.db.Exec(ctx, query, r.ID, r.Enabled, r.FailureCount, r.NextRunAt, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (Rule, error) {
	var r Rule
	err := row.Scan(&r.ID, &r.UserID, &r.Kind, &r.SourceAcct, &r.DestRef, &r.Asset, &r.Network, &r.Amount,
		&r.Frequency, &r.StartAt, &r.EndAt, &r.Enabled, &r.OnFailure, &r.MaxRetries, &r.FailureCount,
		&r.NextRunAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, err
	}
	return r, nil
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
