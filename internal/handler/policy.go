package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/repository"
)

// PolicyHandler is the admin plane for tier policies. Publishing a policy
// bumps its version and refreshes the resolver snapshot immediately;
// in-flight requests finish against the snapshot they started with.
type PolicyHandler struct {
	repository *repository.PolicyRepository
	resolver   *policy.Resolver
}

func NewPolicyHandler(repo *repository.PolicyRepository, resolver *policy.Resolver) *PolicyHandler {
	return &PolicyHandler{
		repository: repo,
		resolver:   resolver,
	}
}

func (h *PolicyHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	policies, err := h.repository.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, policies)
}

func (h *PolicyHandler) Get(c *gin.Context) {
	name := c.Param("tier")

	ctx := c.Request.Context()
	p, err := h.repository.FindByName(ctx, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tier policy not found"})
		return
	}

	c.JSON(http.StatusOK, p)
}

func (h *PolicyHandler) Upsert(c *gin.Context) {
	name := c.Param("tier")

	var req struct {
		Limits    map[string]policy.RateRule `json:"limits" binding:"required"`
		Quotas    map[string]int64           `json:"quotas" binding:"required"`
		Toggles   map[string]bool            `json:"toggles"`
		Cacheable map[string]bool            `json:"cacheable"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject rules the limiter factory can't run before they are published
	if err := policy.ValidateRates(req.Limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limits, _ := json.Marshal(req.Limits)
	quotas, _ := json.Marshal(req.Quotas)
	toggles, _ := json.Marshal(req.Toggles)
	cacheable, _ := json.Marshal(req.Cacheable)

	p := &models.TierPolicy{
		Name:      name,
		Limits:    string(limits),
		Quotas:    string(quotas),
		Toggles:   string(toggles),
		Cacheable: string(cacheable),
	}

	ctx := c.Request.Context()
	if err := h.repository.Upsert(ctx, p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.resolver.Invalidate(ctx); err != nil {
		// Stored but not yet live; the periodic refresh will pick it up
		c.JSON(http.StatusOK, gin.H{"message": "Policy stored, refresh pending", "warning": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Policy published", "tier": name})
}

func (h *PolicyHandler) Delete(c *gin.Context) {
	name := c.Param("tier")

	ctx := c.Request.Context()
	if err := h.repository.Delete(ctx, name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.resolver.Invalidate(ctx); err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "Policy deleted, refresh pending", "warning": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Policy deleted", "tier": name})
}

// Refresh forces a resolver reload without changing any row
func (h *PolicyHandler) Refresh(c *gin.Context) {
	if err := h.resolver.Invalidate(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Policy table refreshed", "loaded_at": h.resolver.Snapshot().LoadedAt})
}
