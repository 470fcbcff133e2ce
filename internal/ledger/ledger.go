// Package ledger is a SQLite-backed fungible token ledger: balances,
// allowances, owner-gated minting, direct and delegated transfers.
//
// The registry only sees the ledger through registry.TokenLedger, via an
// Account bound to the registry's treasury identity.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/storage"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidAccount        = errors.New("account is empty")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotMinter             = errors.New("caller is not the minter")
	ErrBalanceOverflow       = errors.New("balance overflow")
)

// Transfer kinds recorded in the transfer history
const (
	KindMint         = "mint"
	KindTransfer     = "transfer"
	KindTransferFrom = "transfer_from"
)

// Entry is one row of the transfer history
type Entry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Spender   string    `json:"spender,omitempty"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is a token ledger stored in a single SQLite file
type Ledger struct {
	db     *storage.SQLite
	minter string
	logger *zap.Logger
}

// Open opens (and creates if needed) the ledger at path. minter is the only
// identity allowed to mint.
func Open(driver, path, minter string, logger *zap.Logger) (*Ledger, error) {
	db, err := storage.OpenSQLite(driver, path)
	if err != nil {
		return nil, err
	}

	schema, err := fs.Sub(schemaFS, "schema")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Migrate(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:     db,
		minter: minter,
		logger: logger.With(zap.String("component", "ledger"), zap.String("path", path)),
	}, nil
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Minter returns the identity allowed to mint
func (l *Ledger) Minter() string {
	return l.minter
}

// Mint creates amount new tokens for to
func (l *Ledger) Mint(ctx context.Context, caller, to string, amount int64) error {
	if l.minter == "" || caller != l.minter {
		return ErrNotMinter
	}
	if to == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return l.inTx(ctx, func(tx *sql.Tx) error {
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		return record(ctx, tx, KindMint, "", to, "", amount)
	})
}

// Transfer moves amount from from to to
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64) error {
	if from == "" || to == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		return record(ctx, tx, KindTransfer, from, to, "", amount)
	})
	if err != nil {
		l.logger.Debug("transfer rejected",
			zap.String("from", from),
			zap.String("to", to),
			zap.Int64("amount", amount),
			zap.Error(err))
	}
	return err
}

// Approve sets the amount spender may move out of owner's balance
func (l *Ledger) Approve(ctx context.Context, owner, spender string, amount int64) error {
	if owner == "" || spender == "" {
		return ErrInvalidAccount
	}
	if amount < 0 {
		return ErrInvalidAmount
	}

	_, err := l.db.Conn.ExecContext(ctx,
		`INSERT INTO allowances (owner, spender, amount) VALUES (?, ?, ?)
		 ON CONFLICT(owner, spender) DO UPDATE SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP`,
		owner, spender, amount)
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return nil
}

// TransferFrom moves amount from owner to to, spending spender's allowance
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, to string, amount int64) error {
	if spender == "" || owner == "" || to == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := l.inTx(ctx, func(tx *sql.Tx) error {
		var allowance int64
		err := tx.QueryRowContext(ctx,
			"SELECT amount FROM allowances WHERE owner = ? AND spender = ?",
			owner, spender).Scan(&allowance)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read allowance: %w", err)
		}
		if allowance < amount {
			return ErrInsufficientAllowance
		}

		if err := debit(ctx, tx, owner, amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE allowances SET amount = ?, updated_at = CURRENT_TIMESTAMP WHERE owner = ? AND spender = ?",
			allowance-amount, owner, spender); err != nil {
			return fmt.Errorf("failed to update allowance: %w", err)
		}
		return record(ctx, tx, KindTransferFrom, owner, to, spender, amount)
	})
	if err != nil {
		l.logger.Debug("delegated transfer rejected",
			zap.String("spender", spender),
			zap.String("owner", owner),
			zap.String("to", to),
			zap.Int64("amount", amount),
			zap.Error(err))
	}
	return err
}

// BalanceOf returns account's balance
func (l *Ledger) BalanceOf(ctx context.Context, account string) (int64, error) {
	var amount int64
	err := l.db.Conn.QueryRowContext(ctx,
		"SELECT amount FROM balances WHERE account = ?", account).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return amount, nil
}

// Allowance returns what spender may still move out of owner's balance
func (l *Ledger) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	var amount int64
	err := l.db.Conn.QueryRowContext(ctx,
		"SELECT amount FROM allowances WHERE owner = ? AND spender = ?", owner, spender).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read allowance: %w", err)
	}
	return amount, nil
}

// History returns the most recent transfers touching account, newest first
func (l *Ledger) History(ctx context.Context, account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Conn.QueryContext(ctx,
		`SELECT id, kind, from_account, to_account, spender, amount, created_at
		 FROM transfers WHERE from_account = ? OR to_account = ?
		 ORDER BY id DESC LIMIT ?`,
		account, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.From, &e.To, &e.Spender, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func balanceTx(ctx context.Context, tx *sql.Tx, account string) (int64, error) {
	var amount int64
	err := tx.QueryRowContext(ctx,
		"SELECT amount FROM balances WHERE account = ?", account).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return amount, nil
}

func setBalance(ctx context.Context, tx *sql.Tx, account string, amount int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balances (account, amount) VALUES (?, ?)
		 ON CONFLICT(account) DO UPDATE SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP`,
		account, amount)
	if err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

func credit(ctx context.Context, tx *sql.Tx, account string, amount int64) error {
	current, err := balanceTx(ctx, tx, account)
	if err != nil {
		return err
	}
	if current > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}
	return setBalance(ctx, tx, account, current+amount)
}

func debit(ctx context.Context, tx *sql.Tx, account string, amount int64) error {
	current, err := balanceTx(ctx, tx, account)
	if err != nil {
		return err
	}
	if current < amount {
		return ErrInsufficientBalance
	}
	return setBalance(ctx, tx, account, current-amount)
}

func record(ctx context.Context, tx *sql.Tx, kind, from, to, spender string, amount int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO transfers (kind, from_account, to_account, spender, amount) VALUES (?, ?, ?, ?, ?)",
		kind, from, to, spender, amount)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}
