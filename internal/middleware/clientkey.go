package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/service"
)

// ClientKeyValidator authenticates the calling service on the data plane.
// Data-plane routes require a valid key; requests without one are rejected
// before any admission state is touched.
func ClientKeyValidator(keys *service.ClientKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyHeader := strings.TrimSpace(c.GetHeader("X-Client-Key"))

		if keyHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Client key required",
			})
			c.Abort()
			return
		}

		clientKey, err := keys.Validate(c.Request.Context(), keyHeader)

		if err != nil || clientKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid client key",
			})
			c.Abort()
			return
		}

		c.Set("client_key", clientKey)
		c.Set("client_key_id", clientKey.ID)
		c.Set("client_service", clientKey.Service)

		// Off the request path; the request context would be canceled
		go keys.UpdateLastUsed(context.Background(), clientKey.ID)

		c.Next()
	}
}
