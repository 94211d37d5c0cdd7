package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/cache"
)

type CacheHandler struct {
	cache *cache.Cache
}

func NewCacheHandler(responseCache *cache.Cache) *CacheHandler {
	return &CacheHandler{cache: responseCache}
}

// Fingerprint computes the content address for a request without touching
// the store, so clients can address entries directly afterwards.
func (h *CacheHandler) Fingerprint(c *gin.Context) {
	var req struct {
		Feature    string          `json:"feature" binding:"required"`
		Payload    json.RawMessage `json:"payload" binding:"required"`
		UserScoped bool            `json:"user_scoped"`
		ModelTag   string          `json:"model_tag"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := ""
	if req.UserScoped {
		scope = c.GetString("user_id")
	}

	c.JSON(http.StatusOK, gin.H{
		"fingerprint": cache.Fingerprint(req.Feature, req.Payload, scope, req.ModelTag),
	})
}

func (h *CacheHandler) Get(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	result, err := h.cache.Get(c.Request.Context(), fingerprint)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cache miss", "fingerprint": fingerprint})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Put lets a trusted worker write a computed result back. Last write wins.
func (h *CacheHandler) Put(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	var req struct {
		Payload json.RawMessage `json:"payload" binding:"required"`
		TTLSec  int             `json:"ttl_sec" binding:"required,min=1"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.cache.Put(c.Request.Context(), fingerprint, req.Payload, time.Duration(req.TTLSec)*time.Second)
	c.JSON(http.StatusOK, gin.H{"status": "stored", "fingerprint": fingerprint})
}

func (h *CacheHandler) Invalidate(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	if err := h.cache.Invalidate(c.Request.Context(), fingerprint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "invalidated", "fingerprint": fingerprint})
}
