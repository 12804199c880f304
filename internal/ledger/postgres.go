package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists balances and reservations in PostgreSQL. Every
// mutation locks the (account_id, asset) row so concurrent reservations on
// the same account serialize instead of losing updates.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CheckBalance reports whether the account could cover the amount right now.
// Advisory only: authorization happens inside Reserve under a row lock.
func (l *PostgresLedger) CheckBalance(ctx context.Context, accountID, asset string, amount int64) (CheckResult, error) {
	if amount <= 0 {
		return CheckResult{}, ErrInvalidAmount
	}
	const query = `SELECT available FROM balances WHERE account_id = $1 AND asset = $2`
	var available int64
	if err := l.db.QueryRow(ctx, query, accountID, asset).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckResult{Sufficient: false, Available: 0}, nil
		}
		return CheckResult{}, err
	}
	return CheckResult{Sufficient: available >= amount, Available: available}, nil
}

// Reserve atomically moves amount from available to locked under referenceID.
func (l *PostgresLedger) Reserve(ctx context.Context, accountID, asset string, amount int64, referenceID string) (ReserveResult, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReserveResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	res, err := ReserveTx(ctx, tx, accountID, asset, amount, referenceID)
	if err != nil {
		return ReserveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, err
	}
	return res, nil
}

// Release returns the amount held under referenceID to available balance.
// A no-op when nothing is held under that key, so retries are safe.
func (l *PostgresLedger) Release(ctx context.Context, accountID, asset, referenceID string) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ReleaseTx(ctx, tx, accountID, asset, referenceID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Commit permanently removes the amount held under referenceID from locked.
func (l *PostgresLedger) Commit(ctx context.Context, accountID, asset, referenceID string) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := CommitTx(ctx, tx, accountID, asset, referenceID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Deposit credits available balance, creating the (account, asset) row on
// first use.
func (l *PostgresLedger) Deposit(ctx context.Context, accountID, asset string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	const query = `
        INSERT INTO balances (account_id, asset, available, locked) VALUES ($1, $2, $3, 0)
        ON CONFLICT (account_id, asset) DO UPDATE SET available = balances.available + EXCLUDED.available`
	_, err := l.db.Exec(ctx, query, accountID, asset, amount)
	return err
}

// Transfer moves available funds between two accounts in one transaction,
// recording the posting under referenceID. A repeated reference replays the
// stored outcome with ErrDuplicateTransfer.
func (l *PostgresLedger) Transfer(ctx context.Context, fromAccount, toAccount, asset string, amount int64, referenceID string) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var existingFrom, existingTo int64
	const existingQuery = `SELECT from_balance, to_balance FROM transfers WHERE reference_id = $1`
	if err := tx.QueryRow(ctx, existingQuery, referenceID).Scan(&existingFrom, &existingTo); err == nil {
		return TransferResult{ReferenceID: referenceID, FromBalance: existingFrom, ToBalance: existingTo}, ErrDuplicateTransfer
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return TransferResult{}, err
	}

	// Lock the two balance rows in a stable order to avoid deadlocks between
	// opposing transfers.
	first, second := fromAccount, toAccount
	if second < first {
		first, second = second, first
	}
	if err := lockBalance(ctx, tx, first, asset); err != nil {
		return TransferResult{}, err
	}
	if err := lockBalance(ctx, tx, second, asset); err != nil {
		return TransferResult{}, err
	}

	fromBalance, err := availableForUpdate(ctx, tx, fromAccount, asset)
	if err != nil {
		return TransferResult{}, err
	}
	if fromBalance < amount {
		return TransferResult{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE balances SET available = available - $3 WHERE account_id = $1 AND asset = $2`, fromAccount, asset, amount); err != nil {
		return TransferResult{}, err
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO balances (account_id, asset, available, locked) VALUES ($1, $2, $3, 0)
        ON CONFLICT (account_id, asset) DO UPDATE SET available = balances.available + EXCLUDED.available`, toAccount, asset, amount); err != nil {
		return TransferResult{}, err
	}

	var toBalance int64
	if err := tx.QueryRow(ctx, `SELECT available FROM balances WHERE account_id = $1 AND asset = $2`, toAccount, asset).Scan(&toBalance); err != nil {
		return TransferResult{}, err
	}
	fromBalance -= amount

	if _, err := tx.Exec(ctx, `
        INSERT INTO transfers (reference_id, from_account, to_account, asset, amount, from_balance, to_balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, now())`, referenceID, fromAccount, toAccount, asset, amount, fromBalance, toBalance); err != nil {
		return TransferResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransferResult{}, err
	}

	return TransferResult{ReferenceID: referenceID, FromBalance: fromBalance, ToBalance: toBalance}, nil
}

// Balances returns every asset position held by the account.
func (l *PostgresLedger) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	const query = `SELECT account_id, asset, available, locked FROM balances WHERE account_id = $1 ORDER BY asset`
	rows, err := l.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.AccountID, &b.Asset, &b.Available, &b.Locked); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ReserveTx performs a reservation inside the caller's transaction so a
// withdrawal row, its outbox event and its audit entry can commit atomically
// with the funds lock.
func ReserveTx(ctx context.Context, tx pgx.Tx, accountID, asset string, amount int64, referenceID string) (ReserveResult, error) {
	if amount <= 0 {
		return ReserveResult{}, ErrInvalidAmount
	}

	available, err := availableForUpdate(ctx, tx, accountID, asset)
	if err != nil {
		return ReserveResult{}, err
	}

	const existingQuery = `SELECT amount FROM reservations WHERE reference_id = $1`
	var existingAmount int64
	if err := tx.QueryRow(ctx, existingQuery, referenceID).Scan(&existingAmount); err == nil {
		return ReserveResult{ReferenceID: referenceID, Amount: existingAmount}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return ReserveResult{}, err
	}

	if available < amount {
		return ReserveResult{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `
        UPDATE balances SET available = available - $3, locked = locked + $3
        WHERE account_id = $1 AND asset = $2`, accountID, asset, amount); err != nil {
		return ReserveResult{}, err
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO reservations (reference_id, account_id, asset, amount, state, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, now(), now())`, referenceID, accountID, asset, amount, ReservationHeld); err != nil {
		return ReserveResult{}, err
	}

	return ReserveResult{ReferenceID: referenceID, Amount: amount}, nil
}

// ReleaseTx returns a held reservation to available balance inside the
// caller's transaction. Nothing held under the reference is a no-op.
func ReleaseTx(ctx context.Context, tx pgx.Tx, accountID, asset, referenceID string) error {
	amount, held, err := heldAmountForUpdate(ctx, tx, accountID, asset, referenceID)
	if err != nil || !held {
		return err
	}

	if _, err := tx.Exec(ctx, `
        UPDATE balances SET available = available + $3, locked = locked - $3
        WHERE account_id = $1 AND asset = $2`, accountID, asset, amount); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE reservations SET state = $2, updated_at = now() WHERE reference_id = $1`, referenceID, ReservationReleased)
	return err
}

// CommitTx removes a held reservation from locked balance inside the caller's
// transaction: the funds have left the system.
func CommitTx(ctx context.Context, tx pgx.Tx, accountID, asset, referenceID string) error {
	amount, held, err := heldAmountForUpdate(ctx, tx, accountID, asset, referenceID)
	if err != nil || !held {
		return err
	}

	if _, err := tx.Exec(ctx, `
        UPDATE balances SET locked = locked - $3
        WHERE account_id = $1 AND asset = $2`, accountID, asset, amount); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE reservations SET state = $2, updated_at = now() WHERE reference_id = $1`, referenceID, ReservationCommitted)
	return err
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountID, asset string) error {
	_, err := tx.Exec(ctx, `SELECT 1 FROM balances WHERE account_id = $1 AND asset = $2 FOR UPDATE`, accountID, asset)
	return err
}

func availableForUpdate(ctx context.Context, tx pgx.Tx, accountID, asset string) (int64, error) {
	const query = `SELECT available FROM balances WHERE account_id = $1 AND asset = $2 FOR UPDATE`
	var available int64
	if err := tx.QueryRow(ctx, query, accountID, asset).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientFunds
		}
		return 0, err
	}
	return available, nil
}

// heldAmountForUpdate locks the balance row and the reservation row and
// reports the held amount. held is false when the reservation is absent or
// already released/committed.
func heldAmountForUpdate(ctx context.Context, tx pgx.Tx, accountID, asset, referenceID string) (int64, bool, error) {
	if err := lockBalance(ctx, tx, accountID, asset); err != nil {
		return 0, false, err
	}

	const query = `
        SELECT amount, state FROM reservations
        WHERE reference_id = $1 AND account_id = $2 AND asset = $3 FOR UPDATE`
	var amount int64
	var state string
	if err := tx.QueryRow(ctx, query, referenceID, accountID, asset).Scan(&amount, &state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if state != ReservationHeld {
		return 0, false, nil
	}
	return amount, true, nil
}

var _ Ledger = (*PostgresLedger)(nil)
