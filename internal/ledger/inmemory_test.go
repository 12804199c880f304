package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestReserveMovesAvailableToLocked(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 150)

	res, err := l.Reserve(ctx, "acct-1", "USDC", 101, "wd-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.Amount != 101 {
		t.Fatalf("expected reserved amount 101, got %d", res.Amount)
	}

	b := Snapshot(l, "acct-1", "USDC")
	if b.Available != 49 || b.Locked != 101 {
		t.Fatalf("unexpected balance after reserve: %+v", b)
	}
}

func TestReserveInsufficientFundsLeavesBalanceUntouched(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 100)

	if _, err := l.Reserve(ctx, "acct-1", "USDC", 101, "wd-1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	b := Snapshot(l, "acct-1", "USDC")
	if b.Available != 100 || b.Locked != 0 {
		t.Fatalf("balance mutated by failed reserve: %+v", b)
	}
}

func TestReserveIsIdempotentPerReference(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 500)

	first, err := l.Reserve(ctx, "acct-1", "USDC", 200, "wd-1")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := l.Reserve(ctx, "acct-1", "USDC", 200, "wd-1")
	if err != nil {
		t.Fatalf("replayed reserve: %v", err)
	}
	if first != second {
		t.Fatalf("replay returned different result: %+v vs %+v", first, second)
	}

	b := Snapshot(l, "acct-1", "USDC")
	if b.Available != 300 || b.Locked != 200 {
		t.Fatalf("replayed reserve changed ledger state: %+v", b)
	}
}

func TestReleaseRestoresFundsExactlyOnce(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 150)

	if _, err := l.Reserve(ctx, "acct-1", "USDC", 101, "wd-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release(ctx, "acct-1", "USDC", "wd-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Retried release must be a no-op.
	if err := l.Release(ctx, "acct-1", "USDC", "wd-1"); err != nil {
		t.Fatalf("retried release: %v", err)
	}

	b := Snapshot(l, "acct-1", "USDC")
	if b.Available != 150 || b.Locked != 0 {
		t.Fatalf("unexpected balance after release: %+v", b)
	}
}

func TestCommitRemovesLockedFunds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 300)

	if _, err := l.Reserve(ctx, "acct-1", "USDC", 120, "wd-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Commit(ctx, "acct-1", "USDC", "wd-1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// A release after commit must not resurrect the funds.
	if err := l.Release(ctx, "acct-1", "USDC", "wd-1"); err != nil {
		t.Fatalf("release after commit: %v", err)
	}

	b := Snapshot(l, "acct-1", "USDC")
	if b.Available != 180 || b.Locked != 0 {
		t.Fatalf("unexpected balance after commit: %+v", b)
	}
}

func TestConcurrentReservationsNeverDoubleSpend(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 1_000)

	const workers = 20
	const amount = int64(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("wd-%d", i)
			if _, err := l.Reserve(ctx, "acct-1", "USDC", amount, ref); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("reserve %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 reservations to succeed, got %d", succeeded)
	}
	b := Snapshot(l, "acct-1", "USDC")
	if b.Available != 0 || b.Locked != 1_000 {
		t.Fatalf("locked total exceeds seeded balance: %+v", b)
	}
}

func TestConservationUnderInterleaving(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-1", "USDC", 10_000)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("op-%d", i)
			if _, err := l.Reserve(ctx, "acct-1", "USDC", 250, ref); err != nil {
				t.Errorf("reserve %s: %v", ref, err)
				return
			}
			if i%2 == 0 {
				if err := l.Release(ctx, "acct-1", "USDC", ref); err != nil {
					t.Errorf("release %s: %v", ref, err)
				}
			}
		}(i)
	}
	wg.Wait()

	// Half the reservations were released; the rest are still locked.
	b := Snapshot(l, "acct-1", "USDC")
	if b.Available+b.Locked != 10_000 {
		t.Fatalf("available+locked not conserved: %+v", b)
	}
	if b.Locked != 4*250 {
		t.Fatalf("expected 1000 locked, got %d", b.Locked)
	}
}

func TestTransferIsIdempotentPerReference(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-a", "XAU", 5_000)

	res, err := l.Transfer(ctx, "acct-a", "acct-b", "XAU", 1_500, "rec-1")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.FromBalance != 3_500 || res.ToBalance != 1_500 {
		t.Fatalf("unexpected balances: %+v", res)
	}

	replay, err := l.Transfer(ctx, "acct-a", "acct-b", "XAU", 1_500, "rec-1")
	if !errors.Is(err, ErrDuplicateTransfer) {
		t.Fatalf("expected duplicate transfer, got %v", err)
	}
	if replay != res {
		t.Fatalf("replay returned different result: %+v vs %+v", replay, res)
	}

	from := Snapshot(l, "acct-a", "XAU")
	to := Snapshot(l, "acct-b", "XAU")
	if from.Available+to.Available != 5_000 {
		t.Fatalf("transfer not conserved: from=%+v to=%+v", from, to)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "acct-a", "XAU", 100)

	if _, err := l.Transfer(ctx, "acct-a", "acct-b", "XAU", 500, "rec-1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestDepositCreditsAvailable(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if err := l.Deposit(ctx, "acct-1", "USDC", 750); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	check, err := l.CheckBalance(ctx, "acct-1", "USDC", 500)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.Sufficient || check.Available != 750 {
		t.Fatalf("unexpected check result: %+v", check)
	}
}
