package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/gate"
	"github.com/pathlane/usage-gate/internal/policy"
)

// AdmissionHandler exposes the rate-limit admission check so callers can
// probe a decision without going through the full serving path.
type AdmissionHandler struct {
	gate *gate.Service
}

func NewAdmissionHandler(gateService *gate.Service) *AdmissionHandler {
	return &AdmissionHandler{gate: gateService}
}

func (h *AdmissionHandler) Admit(c *gin.Context) {
	var req struct {
		EndpointClass string `json:"endpoint_class" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	tier := c.GetString("tier")

	decision, err := h.gate.Admit(c.Request.Context(), userID, tier, req.EndpointClass)
	if err == policy.ErrUnknownTier {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unknown subscription tier", "tier": tier})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
		c.Header("Retry-After", retryAfterSeconds(decision.RetryAfter))
	}

	c.JSON(status, decision)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
