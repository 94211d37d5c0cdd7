package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per request. The identity middleware runs inside
// the handler chain, so user and tier are read after c.Next().
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		line := fmt.Sprintf("[%s] %s %s - %d - %v - %s",
			c.GetString("request_id"),
			method,
			path,
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
		)

		if userID := c.GetString("user_id"); userID != "" {
			line += fmt.Sprintf(" user=%s tier=%s", userID, c.GetString("tier"))
		}

		log.Print(line)
	}
}
