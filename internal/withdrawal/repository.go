package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-markets/treasury/internal/audit"
	"github.com/meridian-markets/treasury/internal/ledger"
	"github.com/meridian-markets/treasury/internal/outbox"
)

// Store persists withdrawal requests. Create and Transition are atomic: the
// funds reservation, the request row, the outbox event and the audit entry
// commit together or not at all.
type Store interface {
	Create(ctx context.Context, w Withdrawal, evt outbox.Event, entry audit.Entry) error
	Transition(ctx context.Context, id, userID string, to Status, evt outbox.Event, entry audit.Entry) (Withdrawal, error)
	Get(ctx context.Context, id, userID string) (Withdrawal, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Withdrawal, error)
}

// checkTransition reports replay=true when the row is already in the target
// status (a retried request) and an error when the move is illegal.
func checkTransition(from, to Status) (bool, error) {
	if from == to {
		return true, nil
	}
	if CanTransition(from, to) {
		return false, nil
	}
	if to == StatusCancelled {
		return false, ErrNotPending
	}
	return false, ErrInvalidTransition
}

// PostgresStore stores withdrawals in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create reserves w.Total under the withdrawal's id and persists the pending
// row, its outbox event and its audit entry in one transaction. A failed
// reservation aborts everything and surfaces ledger.ErrInsufficientFunds.
// Creating the same id twice replays the first outcome without a second
// reservation, which makes deterministic caller-supplied ids safe to retry.
func (s *PostgresStore) Create(ctx context.Context, w Withdrawal, evt outbox.Event, entry audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := ledger.ReserveTx(ctx, tx, w.UserID, w.Asset, w.Total, w.ID); err != nil {
		return err
	}

	const query = `
        INSERT INTO withdrawals (id, user_id, asset, network, destination, masked_destination,
            amount, network_fee, platform_fee, total_fee, confirmations, total, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (id) DO NOTHING`
	tag, err := tx.Exec(ctx, query,
		w.ID, w.UserID, w.Asset, w.Network, w.Destination, w.MaskedDestination,
		w.Amount, w.Fee.NetworkFee, w.Fee.PlatformFee, w.Fee.TotalFee, w.Fee.EstimatedConfirmations,
		w.Total, w.Status, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Replay of an accepted request: ReserveTx above replayed the
		// original reservation, so just keep the existing row and skip the
		// second event and audit entry.
		return tx.Commit(ctx)
	}

	if err := outbox.InsertTx(ctx, tx, evt); err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Transition moves a withdrawal to a new status under a row lock, applying
// the matching ledger effect: cancel and fail release the reservation,
// confirm commits it. Retrying a transition already applied returns the row
// unchanged.
func (s *PostgresStore) Transition(ctx context.Context, id, userID string, to Status, evt outbox.Event, entry audit.Entry) (Withdrawal, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Withdrawal{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := getForUpdate(ctx, tx, id, userID)
	if err != nil {
		return Withdrawal{}, err
	}

	replay, err := checkTransition(w.Status, to)
	if err != nil {
		return Withdrawal{}, err
	}
	if replay {
		return w, tx.Commit(ctx)
	}

	switch to {
	case StatusCancelled, StatusFailed:
		if err := ledger.ReleaseTx(ctx, tx, w.UserID, w.Asset, w.ID); err != nil {
			return Withdrawal{}, err
		}
	case StatusConfirmed:
		if err := ledger.CommitTx(ctx, tx, w.UserID, w.Asset, w.ID); err != nil {
			return Withdrawal{}, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE withdrawals SET status = $2, updated_at = $3 WHERE id = $1`, id, to, now); err != nil {
		return Withdrawal{}, err
	}
	w.Status = to
	w.UpdatedAt = now

	if err := outbox.InsertTx(ctx, tx, evt); err != nil {
		return Withdrawal{}, err
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return Withdrawal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

const selectColumns = `id, user_id, asset, network, destination, masked_destination,
    amount, network_fee, platform_fee, total_fee, confirmations, total, status, created_at, updated_at`

// Get fetches one withdrawal. An empty userID skips the ownership filter and
// is reserved for system callers (reconciliation hooks).
func (s *PostgresStore) Get(ctx context.Context, id, userID string) (Withdrawal, error) {
	query := `SELECT ` + selectColumns + ` FROM withdrawals WHERE id = $1`
	args := []any{id}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	return scanWithdrawal(s.db.QueryRow(ctx, query, args...))
}

// ListByUser returns the caller's withdrawals, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Withdrawal, error) {
	query := `SELECT ` + selectColumns + ` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id, userID string) (Withdrawal, error) {
	query := `SELECT ` + selectColumns + ` FROM withdrawals WHERE id = $1`
	args := []any{id}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	query += ` FOR UPDATE`
	return scanWithdrawal(tx.QueryRow(ctx, query, args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (Withdrawal, error) {
	var w Withdrawal
	err := row.Scan(&w.ID, &w.UserID, &w.Asset, &w.Network, &w.Destination, &w.MaskedDestination,
		&w.Amount, &w.Fee.NetworkFee, &w.Fee.PlatformFee, &w.Fee.TotalFee, &w.Fee.EstimatedConfirmations,
		&w.Total, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, ErrNotFound
		}
		return Withdrawal{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

var _ Store = (*PostgresStore)(nil)
