package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/federated-storage/registry/internal/models"
	"github.com/federated-storage/registry/internal/storage"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
)

// AccountService handles account registration and login
type AccountService struct {
	db *storage.DB
}

// NewAccountService creates a new account service
func NewAccountService(db *storage.DB) *AccountService {
	return &AccountService{db: db}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	Token     string `json:"token"`
}

// NewAddress returns a random identity address: 0x followed by 40 hex digits
func NewAddress() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate address: %w", err)
	}
	return "0x" + hex.EncodeToString(b), nil
}

// Register creates a new account with a fresh identity address
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	// Check if account exists
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)",
		req.Email).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check account existence: %w", err)
	}
	if exists {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	address, err := NewAddress()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Address:      address,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Email, account.PasswordHash, account.Address, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		// a concurrent registration won the race for the email
		if isUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// Login authenticates an account
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (*models.Account, error) {
	var account models.Account
	err := s.db.Pool.QueryRow(ctx,
		"SELECT id, email, password_hash, address, created_at, updated_at FROM accounts WHERE email = $1",
		req.Email).Scan(&account.ID, &account.Email, &account.PasswordHash, &account.Address,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &account, nil
}

// GetByAddress retrieves an account by identity address
func (s *AccountService) GetByAddress(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account
	err := s.db.Pool.QueryRow(ctx,
		"SELECT id, email, address, created_at, updated_at FROM accounts WHERE address = $1",
		address).Scan(&account.ID, &account.Email, &account.Address, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &account, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
