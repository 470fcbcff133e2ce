package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/registry"
)

// EngagementHandler handles ratings, comments and tips
type EngagementHandler struct {
	registry *registry.Registry
}

// NewEngagementHandler creates a new engagement handler
func NewEngagementHandler(reg *registry.Registry) *EngagementHandler {
	return &EngagementHandler{registry: reg}
}

// RateRequest carries a rating in basis points
type RateRequest struct {
	Rating *int64 `json:"rating" binding:"required"`
}

// CommentRequest carries comment text
type CommentRequest struct {
	Content string `json:"content"`
}

// TipRequest carries a tip amount
type TipRequest struct {
	Amount *int64 `json:"amount" binding:"required"`
}

// Rate records a rating and returns the new average and count
func (h *EngagementHandler) Rate(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}

	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	avg, count, err := h.registry.Rate(id, *req.Rating, middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file_id":        id,
		"average_rating": avg,
		"rating_count":   count,
	})
}

// Comment appends a comment to a file
func (h *EngagementHandler) Comment(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.AddComment(id, middleware.GetIdentity(c), req.Content); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"file_id": id})
}

// ListComments returns a file's comments oldest first
func (h *EngagementHandler) ListComments(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}

	comments, err := h.registry.ListComments(id)
	if err != nil {
		respondError(c, err)
		return
	}

	offset, limit := page(c)
	c.JSON(http.StatusOK, gin.H{
		"comments": paginate(comments, offset, limit),
		"total":    len(comments),
	})
}

// Tip pays the uploader from the caller's approved token balance
func (h *EngagementHandler) Tip(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}

	var req TipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.Tip(c.Request.Context(), id, *req.Amount, middleware.GetIdentity(c)); err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.registry.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_id":    id,
		"total_tips": rec.TotalTips,
	})
}
