package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-chat/internal/telemetry"
	"storefront-chat/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, hub *ws.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c), 0)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/presence", func(c *gin.Context) {
		if hub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime hub not configured"})
			return
		}
		c.JSON(http.StatusOK, hub.Stats())
	})
}
