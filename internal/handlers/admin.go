package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/registry"
)

// AdminHandler handles owner-only operations
type AdminHandler struct {
	registry *registry.Registry
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(reg *registry.Registry) *AdminHandler {
	return &AdminHandler{registry: reg}
}

// SetTokenRequest names the token ledger to switch to
type SetTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// WithdrawRequest moves registry-held tokens out
type WithdrawRequest struct {
	To     string `json:"to" binding:"required"`
	Amount *int64 `json:"amount" binding:"required"`
}

// TransferOwnerRequest names the next owner
type TransferOwnerRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// SetToken rotates the token ledger
func (h *AdminHandler) SetToken(c *gin.Context) {
	var req SetTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.SetTokenAddress(req.Token, middleware.GetIdentity(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": h.registry.TokenRef()})
}

// Withdraw pays registry-held tokens to a recipient
func (h *AdminHandler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.Withdraw(c.Request.Context(), req.To, *req.Amount, middleware.GetIdentity(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"to": req.To, "amount": *req.Amount})
}

// TransferOwner hands the owner role to another identity
func (h *AdminHandler) TransferOwner(c *gin.Context) {
	var req TransferOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.TransferOwnership(req.Owner, middleware.GetIdentity(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"owner": req.Owner})
}
