package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceKeyHeader carries the shared key of internal callers
const ServiceKeyHeader = "X-Service-Key"

// ServiceKeyMiddleware admits requests carrying the configured service key.
// An empty key disables the guarded routes entirely.
func ServiceKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "internal API disabled"})
			return
		}

		provided := c.GetHeader(ServiceKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.Next()
	}
}
