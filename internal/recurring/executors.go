package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-markets/treasury/internal/ledger"
	"github.com/meridian-markets/treasury/internal/withdrawal"
)

// Executor materializes one transfer for a due rule. Implementations are
// selected by rule kind once at startup and never swapped at runtime.
type Executor interface {
	Execute(ctx context.Context, rule Rule, scheduledAt time.Time) (string, error)
}

// executionReference derives the idempotent reference for a (rule, tick)
// pair so a re-run of the same tick replays instead of moving funds twice.
func executionReference(rule Rule, scheduledAt time.Time) string {
	return fmt.Sprintf("recurring:%s:%d", rule.ID, scheduledAt.Unix())
}

// WireExecutor feeds bank-wire rules into the withdrawal pipeline.
type WireExecutor struct {
	withdrawals *withdrawal.Service
}

// NewWireExecutor builds the bank-wire executor.
func NewWireExecutor(withdrawals *withdrawal.Service) *WireExecutor {
	return &WireExecutor{withdrawals: withdrawals}
}

// Execute creates a withdrawal for the rule's owner. The returned reference
// is the withdrawal id, derived deterministically from the (rule, tick) pair
// so a redelivered tick replays the reservation instead of repeating it.
func (e *WireExecutor) Execute(ctx context.Context, rule Rule, scheduledAt time.Time) (string, error) {
	network := rule.Network
	if network == "" {
		network = "wire"
	}
	ref := executionReference(rule, scheduledAt)
	res, err := e.withdrawals.Create(ctx, withdrawal.CreateInput{
		RequestID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref)).String(),
		UserID:      rule.UserID,
		Asset:       rule.Asset,
		Network:     network,
		Destination: rule.DestRef,
		Amount:      rule.Amount,
	})
	if err != nil {
		return "", err
	}
	return res.WithdrawalID, nil
}

// TransferExecutor moves funds between platform accounts through the ledger.
type TransferExecutor struct {
	ledger ledger.Ledger
}

// NewTransferExecutor builds the internal-transfer executor.
func NewTransferExecutor(lg ledger.Ledger) *TransferExecutor {
	return &TransferExecutor{ledger: lg}
}

// Execute posts the transfer under the tick's reference. A duplicate
// reference means an earlier attempt already moved the funds, so it counts
// as success.
func (e *TransferExecutor) Execute(ctx context.Context, rule Rule, scheduledAt time.Time) (string, error) {
	ref := executionReference(rule, scheduledAt)
	if _, err := e.ledger.Transfer(ctx, rule.SourceAcct, rule.DestRef, rule.Asset, rule.Amount, ref); err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransfer) {
			return ref, nil
		}
		return "", err
	}
	return ref, nil
}
