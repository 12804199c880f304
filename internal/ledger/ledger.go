package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when an account lacks available balance to
	// cover a requested reservation or transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransfer indicates the provided reference identifier already
	// names a completed transfer and the operation was replayed instead of
	// re-executed.
	ErrDuplicateTransfer = errors.New("duplicate transfer")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// ReservationHeld marks funds moved from available to locked and awaiting
	// a commit or release.
	ReservationHeld = "held"
	// ReservationReleased marks a reservation returned to available balance.
	ReservationReleased = "released"
	// ReservationCommitted marks a reservation whose funds left the system.
	ReservationCommitted = "committed"
)

// Balance is the stored position for one (account, asset) pair. Available and
// Locked never go negative; their sum changes only through deposits, commits
// and transfers.
type Balance struct {
	AccountID string `json:"account_id"`
	Asset     string `json:"asset"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}

// CheckResult reports whether an account could cover an amount. It is
// advisory feedback only; Reserve re-checks under a lock at execution time.
type CheckResult struct {
	Sufficient bool  `json:"sufficient"`
	Available  int64 `json:"available"`
}

// ReserveResult captures the outcome of a reservation. Replaying the same
// reference identifier returns the original result unchanged.
type ReserveResult struct {
	ReferenceID string
	Amount      int64
}

// TransferResult captures the outcome of an internal transfer posting.
type TransferResult struct {
	ReferenceID string
	FromBalance int64
	ToBalance   int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Reserve, Release, Commit and Transfer execute atomically per (account,
// asset, referenceID); retrying any of them with the same reference is safe.
type Ledger interface {
	CheckBalance(ctx context.Context, accountID, asset string, amount int64) (CheckResult, error)
	Reserve(ctx context.Context, accountID, asset string, amount int64, referenceID string) (ReserveResult, error)
	Release(ctx context.Context, accountID, asset, referenceID string) error
	Commit(ctx context.Context, accountID, asset, referenceID string) error
	Deposit(ctx context.Context, accountID, asset string, amount int64) error
	Transfer(ctx context.Context, fromAccount, toAccount, asset string, amount int64, referenceID string) (TransferResult, error)
	Balances(ctx context.Context, accountID string) ([]Balance, error)
}
