package ledger

import (
	"context"
	"sync"
)

type balanceKey struct {
	accountID string
	asset     string
}

type reservation struct {
	accountID string
	asset     string
	amount    int64
	state     string
}

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[balanceKey]*Balance
	reservations map[string]*reservation
	transfers    map[string]TransferResult
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and the dev-mode fallback when no database is configured.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     make(map[balanceKey]*Balance),
		reservations: make(map[string]*reservation),
		transfers:    make(map[string]TransferResult),
	}
}

func (l *inMemoryLedger) balance(accountID, asset string) *Balance {
	key := balanceKey{accountID: accountID, asset: asset}
	b, ok := l.balances[key]
	if !ok {
		b = &Balance{AccountID: accountID, Asset: asset}
		l.balances[key] = b
	}
	return b
}

func (l *inMemoryLedger) CheckBalance(_ context.Context, accountID, asset string, amount int64) (CheckResult, error) {
	if amount <= 0 {
		return CheckResult{}, ErrInvalidAmount
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.balances[balanceKey{accountID: accountID, asset: asset}]
	if !ok {
		return CheckResult{Sufficient: false, Available: 0}, nil
	}
	return CheckResult{Sufficient: b.Available >= amount, Available: b.Available}, nil
}

func (l *inMemoryLedger) Reserve(_ context.Context, accountID, asset string, amount int64, referenceID string) (ReserveResult, error) {
	if amount <= 0 {
		return ReserveResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.reservations[referenceID]; ok {
		return ReserveResult{ReferenceID: referenceID, Amount: existing.amount}, nil
	}

	b := l.balance(accountID, asset)
	if b.Available < amount {
		return ReserveResult{}, ErrInsufficientFunds
	}

	b.Available -= amount
	b.Locked += amount
	l.reservations[referenceID] = &reservation{accountID: accountID, asset: asset, amount: amount, state: ReservationHeld}

	return ReserveResult{ReferenceID: referenceID, Amount: amount}, nil
}

func (l *inMemoryLedger) Release(_ context.Context, accountID, asset, referenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[referenceID]
	if !ok || r.state != ReservationHeld || r.accountID != accountID || r.asset != asset {
		return nil
	}

	b := l.balance(accountID, asset)
	b.Locked -= r.amount
	b.Available += r.amount
	r.state = ReservationReleased
	return nil
}

func (l *inMemoryLedger) Commit(_ context.Context, accountID, asset, referenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[referenceID]
	if !ok || r.state != ReservationHeld || r.accountID != accountID || r.asset != asset {
		return nil
	}

	b := l.balance(accountID, asset)
	b.Locked -= r.amount
	r.state = ReservationCommitted
	return nil
}

func (l *inMemoryLedger) Deposit(_ context.Context, accountID, asset string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(accountID, asset).Available += amount
	return nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, fromAccount, toAccount, asset string, amount int64, referenceID string) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if res, ok := l.transfers[referenceID]; ok {
		return res, ErrDuplicateTransfer
	}

	from := l.balance(fromAccount, asset)
	if from.Available < amount {
		return TransferResult{}, ErrInsufficientFunds
	}
	to := l.balance(toAccount, asset)

	from.Available -= amount
	to.Available += amount

	res := TransferResult{ReferenceID: referenceID, FromBalance: from.Available, ToBalance: to.Available}
	l.transfers[referenceID] = res
	return res, nil
}

func (l *inMemoryLedger) Balances(_ context.Context, accountID string) ([]Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var balances []Balance
	for key, b := range l.balances {
		if key.accountID == accountID {
			balances = append(balances, *b)
		}
	}
	return balances, nil
}
