package fees

import (
	"errors"
	"sort"
)

var (
	// ErrUnsupportedNetwork indicates no fee schedule exists for the network.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// NetworkSchedule is the static per-network fee row supplied by the
// configuration collaborator.
type NetworkSchedule struct {
	Fee           int64
	Confirmations int
}

// Tier escalates the platform rate once the withdrawn amount exceeds the
// threshold. Thresholds are denominated in the asset's own minor units.
type Tier struct {
	Threshold int64
	Bps       int64
}

// Config carries the network table and the platform fee schedule.
type Config struct {
	Networks map[string]NetworkSchedule
	BaseBps  int64
	Tiers    []Tier
}

// DefaultConfig returns the built-in fee schedule used when no external
// configuration source is wired.
func DefaultConfig() Config {
	return Config{
		Networks: map[string]NetworkSchedule{
			"bitcoin":  {Fee: 25_000, Confirmations: 3},
			"ethereum": {Fee: 180_000, Confirmations: 12},
			"polygon":  {Fee: 4_000, Confirmations: 64},
			"wire":     {Fee: 1_500_00, Confirmations: 1},
			"internal": {Fee: 0, Confirmations: 0},
		},
		BaseBps: 25,
		Tiers: []Tier{
			{Threshold: 10_000_00, Bps: 40},
			{Threshold: 250_000_00, Bps: 60},
		},
	}
}

// Estimate is the fee breakdown for a prospective withdrawal.
type Estimate struct {
	NetworkFee             int64 `json:"network_fee"`
	PlatformFee            int64 `json:"platform_fee"`
	TotalFee               int64 `json:"total_fee"`
	EstimatedConfirmations int   `json:"estimated_confirmations"`
}

// Estimator computes withdrawal fees. Estimation is a pure function of
// (asset, network, amount); nothing here touches storage.
type Estimator struct {
	cfg Config
}

// NewEstimator builds an estimator over the provided schedule. Tiers are
// sorted ascending so the highest crossed threshold wins.
func NewEstimator(cfg Config) *Estimator {
	tiers := make([]Tier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })
	cfg.Tiers = tiers
	return &Estimator{cfg: cfg}
}

// Estimate returns the fee breakdown for withdrawing amount of asset over
// network. The platform rate escalates by amount tier; thresholds compare
// against the raw asset amount regardless of the asset's unit value.
func (e *Estimator) Estimate(asset, network string, amount int64) (Estimate, error) {
	if amount <= 0 {
		return Estimate{}, ErrInvalidAmount
	}
	schedule, ok := e.cfg.Networks[network]
	if !ok {
		return Estimate{}, ErrUnsupportedNetwork
	}

	bps := e.cfg.BaseBps
	for _, tier := range e.cfg.Tiers {
		if amount > tier.Threshold {
			bps = tier.Bps
		}
	}

	platformFee := amount * bps / 10_000

	return Estimate{
		NetworkFee:             schedule.Fee,
		PlatformFee:            platformFee,
		TotalFee:               schedule.Fee + platformFee,
		EstimatedConfirmations: schedule.Confirmations,
	}, nil
}
