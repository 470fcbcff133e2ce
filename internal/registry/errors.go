package registry

import "errors"

var (
	ErrNotFound          = errors.New("file not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidReference  = errors.New("invalid content reference")
	ErrMissingTitle      = errors.New("title is required")
	ErrEmptyComment      = errors.New("comment is empty")
	ErrInvalidRating     = errors.New("rating must be between 1 and 10000")
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrSelfTip           = errors.New("cannot tip your own file")
	ErrTransferFailed    = errors.New("token transfer failed")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrAmountOverflow    = errors.New("amount overflows accumulated total")
	ErrNoLedger          = errors.New("token ledger not configured")
	ErrOutOfOrder        = errors.New("event out of order")
	ErrInvalidOwner      = errors.New("owner identity is empty")
)
