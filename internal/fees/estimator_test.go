package fees

import (
	"errors"
	"testing"
)

func TestEstimateBaseTier(t *testing.T) {
	e := NewEstimator(DefaultConfig())

	est, err := e.Estimate("USDC", "ethereum", 1_000_00)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.NetworkFee != 180_000 {
		t.Fatalf("unexpected network fee: %d", est.NetworkFee)
	}
	// 25 bps of 100000
	if est.PlatformFee != 250 {
		t.Fatalf("unexpected platform fee: %d", est.PlatformFee)
	}
	if est.TotalFee != est.NetworkFee+est.PlatformFee {
		t.Fatalf("total fee mismatch: %+v", est)
	}
	if est.EstimatedConfirmations != 12 {
		t.Fatalf("unexpected confirmations: %d", est.EstimatedConfirmations)
	}
}

func TestEstimateTierEscalation(t *testing.T) {
	e := NewEstimator(Config{
		Networks: map[string]NetworkSchedule{"bitcoin": {Fee: 100, Confirmations: 3}},
		BaseBps:  25,
		Tiers: []Tier{
			{Threshold: 1_000, Bps: 40},
			{Threshold: 10_000, Bps: 60},
		},
	})

	cases := []struct {
		amount int64
		want   int64
	}{
		{amount: 1_000, want: 1_000 * 25 / 10_000},
		{amount: 1_001, want: 1_001 * 40 / 10_000},
		{amount: 10_001, want: 10_001 * 60 / 10_000},
	}
	for _, tc := range cases {
		est, err := e.Estimate("BTC", "bitcoin", tc.amount)
		if err != nil {
			t.Fatalf("estimate(%d): %v", tc.amount, err)
		}
		if est.PlatformFee != tc.want {
			t.Fatalf("amount %d: expected platform fee %d, got %d", tc.amount, tc.want, est.PlatformFee)
		}
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	e := NewEstimator(DefaultConfig())

	first, err := e.Estimate("XAU", "polygon", 42_000)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	second, err := e.Estimate("XAU", "polygon", 42_000)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if first != second {
		t.Fatalf("estimates differ: %+v vs %+v", first, second)
	}
}

func TestEstimateUnknownNetwork(t *testing.T) {
	e := NewEstimator(DefaultConfig())

	if _, err := e.Estimate("USDC", "solana", 100); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("expected unsupported network, got %v", err)
	}
}

func TestEstimateRejectsNonPositiveAmount(t *testing.T) {
	e := NewEstimator(DefaultConfig())

	if _, err := e.Estimate("USDC", "ethereum", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
