package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/gate"
	"github.com/pathlane/usage-gate/internal/middleware"
	"github.com/pathlane/usage-gate/internal/storage"
)

// AdminHandler carries the operator-only operations that touch user state
// directly: usage corrections and tier-change events.
type AdminHandler struct {
	gate  *gate.Service
	redis *storage.RedisClient
}

func NewAdminHandler(gateService *gate.Service, redis *storage.RedisClient) *AdminHandler {
	return &AdminHandler{
		gate:  gateService,
		redis: redis,
	}
}

// CorrectUsage applies a signed adjustment to a committed usage count,
// for refunds and billing disputes.
func (h *AdminHandler) CorrectUsage(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		Feature string `json:"feature" binding:"required"`
		Period  string `json:"period" binding:"required"`
		Delta   int64  `json:"delta" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.gate.CorrectUsage(ctx, req.UserID, req.Feature, req.Period, req.Delta); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Usage corrected"})
}

// GetUserUsage reports any user's consumption for the admin plane
func (h *AdminHandler) GetUserUsage(c *gin.Context) {
	userID := c.Param("user_id")
	feature := c.Param("feature")
	tier := c.Query("tier")
	period := c.Query("period")

	if tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier query parameter is required"})
		return
	}

	summary, err := h.gate.UsageSummary(c.Request.Context(), userID, tier, feature, period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// TierChange records a plan change so new limits apply mid-period without
// waiting for token reissue. Already-consumed usage is not re-evaluated.
func (h *AdminHandler) TierChange(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Tier   string `json:"tier" binding:"required"`
		TTLSec int    `json:"ttl_sec"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Tier overrides require Redis"})
		return
	}

	// Long enough for the auth layer to rotate tokens
	ttl := 24 * time.Hour
	if req.TTLSec > 0 {
		ttl = time.Duration(req.TTLSec) * time.Second
	}

	ctx := c.Request.Context()
	if err := h.redis.Set(ctx, middleware.TierOverrideKey(req.UserID), req.Tier, ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Tier override applied",
		"user_id": req.UserID,
		"tier":    req.Tier,
	})
}
