package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/models"
)

// Authorizer decides whether an identity holds the owner role
type Authorizer interface {
	IsOwner(identity string) bool
}

// OwnershipTransferer is implemented by authorizers whose owner can change
type OwnershipTransferer interface {
	Authorizer
	SetOwner(identity string)
}

// Ownable is a single-owner Authorizer
type Ownable struct {
	mu    sync.RWMutex
	owner string
}

// NewOwnable creates an Ownable held by owner. An empty owner denies everyone.
func NewOwnable(owner string) *Ownable {
	return &Ownable{owner: owner}
}

// Owner returns the current owner
func (o *Ownable) Owner() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner
}

// IsOwner reports whether identity is the owner
func (o *Ownable) IsOwner(identity string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner != "" && identity == o.owner
}

// SetOwner replaces the owner
func (o *Ownable) SetOwner(identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owner = identity
}

// TokenRef returns the reference of the ledger currently in use
func (r *Registry) TokenRef() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokenRef
}

// Ledger returns the ledger currently in use
func (r *Registry) Ledger() TokenLedger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger
}

// SetTokenAddress resolves ref and makes it the ledger used for tips,
// claims and withdrawals. Owner only.
func (r *Registry) SetTokenAddress(ref, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.auth.IsOwner(caller) {
		return ErrUnauthorized
	}
	if r.resolver == nil {
		return ErrNoLedger
	}
	l, err := r.resolver.Resolve(ref)
	if err != nil {
		return fmt.Errorf("failed to resolve token %q: %w", ref, err)
	}
	r.swapLedger(ref, l, caller)
	return nil
}

// SetTokenLedger installs an already constructed ledger under ref. Owner only.
func (r *Registry) SetTokenLedger(ref string, l TokenLedger, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.auth.IsOwner(caller) {
		return ErrUnauthorized
	}
	if l == nil {
		return ErrNoLedger
	}
	r.swapLedger(ref, l, caller)
	return nil
}

func (r *Registry) swapLedger(ref string, l TokenLedger, caller string) {
	previous := r.tokenRef
	r.ledger = l
	r.tokenRef = ref
	r.logger.Info("token ledger rotated",
		zap.String("from", previous),
		zap.String("to", ref))
	r.emit(models.Event{
		Kind:     models.EventTokenLedgerChanged,
		Actor:    caller,
		TokenRef: ref,
	})
}

// Withdraw pays amount from the registry's token balance to to. Owner only.
func (r *Registry) Withdraw(ctx context.Context, to string, amount int64, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.auth.IsOwner(caller) {
		return ErrUnauthorized
	}
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if r.ledger == nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrNoLedger)
	}
	if err := r.ledger.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	r.emit(models.Event{
		Kind:      models.EventTreasuryWithdrawn,
		Actor:     caller,
		Recipient: to,
		Amount:    amount,
	})
	return nil
}

// TransferOwnership hands the owner role to newOwner. Owner only, and only
// when the configured Authorizer supports it.
func (r *Registry) TransferOwnership(newOwner, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.auth.IsOwner(caller) {
		return ErrUnauthorized
	}
	if newOwner == "" {
		return ErrInvalidOwner
	}
	t, ok := r.auth.(OwnershipTransferer)
	if !ok {
		return ErrUnauthorized
	}
	t.SetOwner(newOwner)

	r.emit(models.Event{
		Kind:      models.EventOwnershipChanged,
		Actor:     caller,
		Recipient: newOwner,
	})
	return nil
}
