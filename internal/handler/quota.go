package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/gate"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/quota"
)

type QuotaHandler struct {
	gate *gate.Service
}

func NewQuotaHandler(gateService *gate.Service) *QuotaHandler {
	return &QuotaHandler{gate: gateService}
}

// Reserve places a quota hold for one feature call. The caller settles it
// with a commit or release once the work finishes.
func (h *QuotaHandler) Reserve(c *gin.Context) {
	var req struct {
		Feature string `json:"feature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	tier := c.GetString("tier")

	resv, err := h.gate.CheckAndReserve(c.Request.Context(), userID, tier, req.Feature)
	if err != nil {
		h.writeQuotaError(c, err, tier, req.Feature)
		return
	}

	c.JSON(http.StatusCreated, resv)
}

func (h *QuotaHandler) Commit(c *gin.Context) {
	id := c.Param("id")

	if err := h.gate.Commit(c.Request.Context(), id); err != nil {
		if err == quota.ErrUnknownReservation {
			c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found or already settled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "committed"})
}

func (h *QuotaHandler) Release(c *gin.Context) {
	id := c.Param("id")

	if err := h.gate.Release(c.Request.Context(), id); err != nil {
		if err == quota.ErrUnknownReservation {
			c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found or already settled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// Usage reports committed and pending consumption for the caller, plus the
// tier cap so clients can render a usage meter.
func (h *QuotaHandler) Usage(c *gin.Context) {
	feature := c.Param("feature")
	period := c.Query("period")

	userID := c.GetString("user_id")
	tier := c.GetString("tier")

	summary, err := h.gate.UsageSummary(c.Request.Context(), userID, tier, feature, period)
	if err != nil {
		h.writeQuotaError(c, err, tier, feature)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *QuotaHandler) writeQuotaError(c *gin.Context, err error, tier, feature string) {
	switch err {
	case quota.ErrQuotaExceeded:
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "Monthly quota exhausted for this feature",
			"feature": feature,
			"tier":    tier,
			"upgrade": "Upgrade your plan to raise the quota",
		})
	case quota.ErrFeatureDisabled:
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Feature is not available on your plan",
			"feature": feature,
			"tier":    tier,
		})
	case policy.ErrUnknownTier:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unknown subscription tier", "tier": tier})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
