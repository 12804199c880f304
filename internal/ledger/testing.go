package ledger

// SeedBalance is a test helper that sets the available balance for an
// (account, asset) pair when using the in-memory ledger.
func SeedBalance(l Ledger, accountID, asset string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balance(accountID, asset).Available = amount
	}
}

// Snapshot is a test helper that reads the current position for an
// (account, asset) pair from the in-memory ledger.
func Snapshot(l Ledger, accountID, asset string) Balance {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		if b, ok := mem.balances[balanceKey{accountID: accountID, asset: asset}]; ok {
			return *b
		}
	}
	return Balance{AccountID: accountID, Asset: asset}
}
