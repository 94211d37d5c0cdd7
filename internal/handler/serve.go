package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/cache"
	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/executor"
	"github.com/pathlane/usage-gate/internal/gate"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/quota"
)

// ServeHandler runs the whole admission path for one feature call:
// rate limit, quota reservation, cache, then synchronous compute or an
// async job depending on urgency.
type ServeHandler struct {
	gate      *gate.Service
	executors map[models.TaskType]*executor.HTTPExecutor
}

func NewServeHandler(gateService *gate.Service, executors map[models.TaskType]*executor.HTTPExecutor) *ServeHandler {
	return &ServeHandler{gate: gateService, executors: executors}
}

func (h *ServeHandler) Serve(c *gin.Context) {
	var req struct {
		Feature       string          `json:"feature" binding:"required"`
		EndpointClass string          `json:"endpoint_class"`
		TaskType      models.TaskType `json:"task_type" binding:"required"`
		Payload       json.RawMessage `json:"payload" binding:"required"`
		ModelTag      string          `json:"model_tag"`
		UserScoped    bool            `json:"user_scoped"`
		Urgent        bool            `json:"urgent"`
		TTLSec        int             `json:"ttl_sec"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ex, ok := h.executors[req.TaskType]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown task type", "task_type": req.TaskType})
		return
	}

	if req.EndpointClass == "" {
		req.EndpointClass = "ai"
	}
	if req.TTLSec <= 0 {
		req.TTLSec = 300
	}

	tier := c.GetString("tier")
	payload := req.Payload

	resp, err := h.gate.ServeFeature(c.Request.Context(), gate.FeatureRequest{
		UserID:        c.GetString("user_id"),
		Tier:          tier,
		Feature:       req.Feature,
		EndpointClass: req.EndpointClass,
		Payload:       req.Payload,
		ModelTag:      req.ModelTag,
		UserScoped:    req.UserScoped,
		Urgent:        req.Urgent,
		TTL:           time.Duration(req.TTLSec) * time.Second,
		Compute: func(ctx context.Context) (json.RawMessage, error) {
			return ex.Compute(ctx, payload)
		},
		TaskType: req.TaskType,
	})
	if err != nil {
		h.writeServeError(c, err, tier, req.Feature)
		return
	}

	status := http.StatusOK
	if resp.Route == gate.RouteAsync {
		status = http.StatusAccepted
	}

	c.JSON(status, resp)
}

func (h *ServeHandler) writeServeError(c *gin.Context, err error, tier, feature string) {
	var rl *gate.RateLimitedError
	if errors.As(err, &rl) {
		c.Header("Retry-After", retryAfterSeconds(rl.Decision.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"retry_after": int(rl.Decision.RetryAfter.Seconds()),
		})
		return
	}

	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "Monthly quota exhausted for this feature",
			"feature": feature,
			"tier":    tier,
			"upgrade": "Upgrade your plan to raise the quota",
		})
	case errors.Is(err, quota.ErrFeatureDisabled):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Feature is not available on your plan",
			"feature": feature,
			"tier":    tier,
		})
	case errors.Is(err, policy.ErrUnknownTier):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unknown subscription tier", "tier": tier})
	case errors.Is(err, cache.ErrComputeTimeout):
		// ServeFeature falls back to async on timeout, so this only
		// surfaces when the fallback enqueue failed too.
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Computation timed out"})
	case errors.Is(err, dispatch.ErrUnknownTaskType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
