package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront-chat/internal/observability"
)

// RequestID reuses X-Request-ID or assigns a fresh one, and exposes it to handlers and event headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
