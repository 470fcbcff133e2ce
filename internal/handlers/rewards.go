package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/registry"
)

// RewardHandler handles reward accrual and claims
type RewardHandler struct {
	registry *registry.Registry
}

// NewRewardHandler creates a new reward handler
func NewRewardHandler(reg *registry.Registry) *RewardHandler {
	return &RewardHandler{registry: reg}
}

// AccrueRequest credits an uploader's pending reward
type AccrueRequest struct {
	Uploader string `json:"uploader" binding:"required"`
	Amount   *int64 `json:"amount" binding:"required"`
}

// Pending returns the pending reward of :address
func (h *RewardHandler) Pending(c *gin.Context) {
	address := c.Param("address")
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"pending": h.registry.PendingReward(address),
	})
}

// Claim pays out the caller's pending reward
func (h *RewardHandler) Claim(c *gin.Context) {
	paid, err := h.registry.Claim(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claimed": paid})
}

// Accrue credits a reward on behalf of an internal service
func (h *RewardHandler) Accrue(c *gin.Context) {
	var req AccrueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.Accrue(req.Uploader, *req.Amount); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uploader": req.Uploader,
		"pending":  h.registry.PendingReward(req.Uploader),
	})
}
