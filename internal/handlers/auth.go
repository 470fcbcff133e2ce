package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/models"
	"github.com/federated-storage/registry/internal/registry"
	"github.com/federated-storage/registry/internal/services"
)

// Accounts is the account store used by AuthHandler
type Accounts interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.Account, error)
	Login(ctx context.Context, req services.LoginRequest) (*models.Account, error)
	GetByAddress(ctx context.Context, address string) (*models.Account, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	accounts  Accounts
	registry  *registry.Registry
	jwtConfig middleware.JWTConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts Accounts, reg *registry.Registry, jwtConfig middleware.JWTConfig) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		registry:  reg,
		jwtConfig: jwtConfig,
	}
}

// Register handles account registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.respondWithToken(c, http.StatusCreated, account)
}

// Login handles account login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.respondWithToken(c, http.StatusOK, account)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, account *models.Account) {
	token, err := middleware.GenerateToken(account.ID.String(), account.Email, account.Address, h.jwtConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(status, services.AuthResponse{
		AccountID: account.ID.String(),
		Email:     account.Email,
		Address:   account.Address,
		Token:     token,
	})
}

// Profile returns the caller's account with token balance and pending reward
func (h *AuthHandler) Profile(c *gin.Context) {
	identity := middleware.GetIdentity(c)

	account, err := h.accounts.GetByAddress(c.Request.Context(), identity)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"account":        account,
		"pending_reward": h.registry.PendingReward(identity),
		"token":          h.registry.TokenRef(),
	}
	if l := h.registry.Ledger(); l != nil {
		balance, err := l.BalanceOf(c.Request.Context(), identity)
		if err != nil {
			c.Error(err)
		} else {
			resp["balance"] = balance
		}
	}

	c.JSON(http.StatusOK, resp)
}
