package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront-chat/internal/apperror"
	"storefront-chat/internal/auth"
)

// AuthMiddleware resolves the bearer token into the caller's identity.
func AuthMiddleware(provider auth.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization", "code": apperror.KindUnauthorized})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header", "code": apperror.KindUnauthorized})
			return
		}

		identity, err := provider.Resolve(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": apperror.KindUnauthorized})
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("userRole", identity.Role)
		c.Next()
	}
}
