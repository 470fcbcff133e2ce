package registry

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/models"
)

// Accrue credits amount to the uploader's pending reward. It is meant for
// trusted internal flows only; zero is a no-op.
func (r *Registry) Accrue(uploader string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == 0 {
		return nil
	}
	if r.pending[uploader] > math.MaxInt64-amount {
		return ErrAmountOverflow
	}
	r.accrueLocked(uploader, amount)
	return nil
}

func (r *Registry) accrueLocked(uploader string, amount int64) {
	r.pending[uploader] += amount
	r.emit(models.Event{
		Kind:      models.EventRewardAccrued,
		Recipient: uploader,
		Amount:    amount,
		Total:     r.pending[uploader],
	})
}

// PendingReward returns the unclaimed balance owed to identity
func (r *Registry) PendingReward(identity string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending[identity]
}

// Claim pays the caller's pending reward out of the registry's token
// balance. The balance is zeroed before the transfer and restored if the
// transfer fails.
func (r *Registry) Claim(ctx context.Context, caller string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	amount := r.pending[caller]
	if amount == 0 {
		return 0, ErrNothingToClaim
	}
	if r.ledger == nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, ErrNoLedger)
	}

	delete(r.pending, caller)
	if err := r.ledger.Transfer(ctx, caller, amount); err != nil {
		r.pending[caller] = amount
		r.logger.Warn("reward payout failed, balance restored",
			zap.String("caller", caller),
			zap.Int64("amount", amount),
			zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	r.emit(models.Event{
		Kind:   models.EventRewardClaimed,
		Actor:  caller,
		Amount: amount,
	})
	return amount, nil
}
