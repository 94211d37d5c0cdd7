package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pathlane/usage-gate/internal/storage"
)

// Identity extracts the verified (userID, tier) pair the external identity
// layer put in the bearer token. The core never authenticates end users
// itself; it only checks the token signature shared with that layer.
//
// Billing pushes tier changes faster than tokens expire, so a Redis
// override, when present, supersedes the token's tier claim. The override
// only applies to requests admitted after the change.
func Identity(secret string, redis *storage.RedisClient) gin.HandlerFunc {
	secretBytes := []byte(secret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Use: Bearer <token>",
			})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretBytes, nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token claims",
			})
			c.Abort()
			return
		}

		userID, _ := claims["user_id"].(string)
		tier, _ := claims["tier"].(string)

		if userID == "" || tier == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Token missing user_id or tier claim",
			})
			c.Abort()
			return
		}

		if redis != nil {
			if override, err := redis.Get(c.Request.Context(), TierOverrideKey(userID)); err == nil && override != "" {
				tier = override
			}
		}

		c.Set("user_id", userID)
		c.Set("tier", tier)

		c.Next()
	}
}

// TierOverrideKey is where tier-change events park the new tier until the
// identity layer reissues tokens.
func TierOverrideKey(userID string) string {
	return fmt.Sprintf("tier:override:%s", userID)
}
