package delivery

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecretMiddleware guards trigger routes with a shared bearer secret.
// An empty secret rejects everything with 500 so a misconfigured deploy never
// runs unauthenticated.
func SecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			log.Println("[QueueGateway] QUEUE_SECRET is not configured, refusing request")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "queue secret not configured"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing or invalid bearer token"})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		c.Next()
	}
}
