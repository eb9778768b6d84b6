package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"devconnector-chat/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, stats func() ws.HubStats, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/groups", func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry stats unavailable"})
			return
		}
		c.JSON(http.StatusOK, stats())
	})
}
