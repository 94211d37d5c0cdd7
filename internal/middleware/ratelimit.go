package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/ratelimit"
	"github.com/pathlane/usage-gate/internal/service"
)

// RateLimit runs the admission check for one endpoint class before the
// handler. Denials become 429s with Retry-After; every decision is audit
// logged asynchronously.
func RateLimit(admitter *ratelimit.Admitter, audit *service.AuditLogger, endpointClass string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		tier := c.GetString("tier")

		decision, err := admitter.Admit(c.Request.Context(), userID, tier, endpointClass)
		if err == policy.ErrUnknownTier {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Unknown subscription tier",
				"tier":  tier,
			})
			c.Abort()
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limit check failed",
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		c.Header("X-RateLimit-Tier", tier)

		if audit != nil {
			entry := models.AdmissionLog{
				UserID:        userID,
				Tier:          tier,
				EndpointClass: endpointClass,
				Decision:      "allowed",
			}
			if !decision.Allowed {
				entry.Decision = "rate_limited"
				entry.RetryAfterMs = int(decision.RetryAfter.Milliseconds())
			}
			if keyID, ok := c.Get("client_key_id"); ok {
				if id, ok := keyID.(uuid.UUID); ok {
					entry.ClientKeyID = &id
				}
			}
			audit.Record(entry)
		}

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"tier":        tier,
				"limit":       decision.Limit,
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
