package registry

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/models"
)

// Tip moves amount from tipper to the file's uploader through the token
// ledger and adds it to the file's total. Nothing is recorded unless the
// ledger transfer succeeds.
func (r *Registry) Tip(ctx context.Context, fileID uint64, amount int64, tipper string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(fileID)
	if err != nil {
		return err
	}
	if tipper == rec.Uploader {
		return ErrSelfTip
	}
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if rec.TotalTips > math.MaxInt64-amount {
		return ErrAmountOverflow
	}
	bonus := shareOf(amount, r.tipRewardBps)
	if bonus > 0 && r.pending[rec.Uploader] > math.MaxInt64-bonus {
		return ErrAmountOverflow
	}
	if r.ledger == nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrNoLedger)
	}

	if err := r.ledger.TransferFrom(ctx, tipper, rec.Uploader, amount); err != nil {
		r.logger.Warn("tip transfer failed",
			zap.Uint64("file_id", fileID),
			zap.String("tipper", tipper),
			zap.Int64("amount", amount),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	rec.TotalTips += amount
	r.emit(models.Event{
		Kind:      models.EventTipRecorded,
		FileID:    rec.ID,
		Actor:     tipper,
		Recipient: rec.Uploader,
		Amount:    amount,
		Total:     rec.TotalTips,
	})
	if bonus > 0 {
		r.accrueLocked(rec.Uploader, bonus)
	}
	return nil
}

// shareOf returns floor(amount * bps / 10000) without overflowing
func shareOf(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount/basisPoints)*bps + (amount%basisPoints)*bps/basisPoints
}
