package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/registry"
)

// ErrInvalidRef is returned for token references that cannot name a ledger file
var ErrInvalidRef = errors.New("invalid token reference")

var refPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Account is a Ledger seen from one identity: Transfer pays out of that
// identity's balance and TransferFrom spends allowances granted to it.
type Account struct {
	ledger *Ledger
	self   string
}

// Account binds l to self
func (l *Ledger) Account(self string) *Account {
	return &Account{ledger: l, self: self}
}

// Transfer pays amount from the bound identity to to
func (a *Account) Transfer(ctx context.Context, to string, amount int64) error {
	return a.ledger.Transfer(ctx, a.self, to, amount)
}

// TransferFrom moves amount from owner to to using owner's allowance for the bound identity
func (a *Account) TransferFrom(ctx context.Context, owner, to string, amount int64) error {
	return a.ledger.TransferFrom(ctx, a.self, owner, to, amount)
}

// BalanceOf returns account's balance
func (a *Account) BalanceOf(ctx context.Context, account string) (int64, error) {
	return a.ledger.BalanceOf(ctx, account)
}

var _ registry.TokenLedger = (*Account)(nil)

// Directory opens one ledger file per token reference under a data directory
// and hands them to the registry bound to the treasury identity.
type Directory struct {
	mu       sync.Mutex
	driver   string
	dir      string
	minter   string
	treasury string
	logger   *zap.Logger
	open     map[string]*Ledger
}

// NewDirectory creates a Directory
func NewDirectory(driver, dir, minter, treasury string, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		driver:   driver,
		dir:      dir,
		minter:   minter,
		treasury: treasury,
		logger:   logger,
		open:     make(map[string]*Ledger),
	}
}

// Open returns the ledger for ref, opening it on first use
func (d *Directory) Open(ref string) (*Ledger, error) {
	if !refPattern.MatchString(ref) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.open[ref]; ok {
		return l, nil
	}
	l, err := Open(d.driver, filepath.Join(d.dir, ref+".db"), d.minter, d.logger)
	if err != nil {
		return nil, err
	}
	d.open[ref] = l
	d.logger.Info("token ledger opened", zap.String("token", ref))
	return l, nil
}

// Resolve implements registry.LedgerResolver
func (d *Directory) Resolve(ref string) (registry.TokenLedger, error) {
	l, err := d.Open(ref)
	if err != nil {
		return nil, err
	}
	return l.Account(d.treasury), nil
}

// Close closes every opened ledger
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for ref, l := range d.open {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ref, err))
		}
		delete(d.open, ref)
	}
	return errors.Join(errs...)
}
