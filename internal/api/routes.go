package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/sipdispatch/internal/api/handlers"
	"github.com/jroosing/sipdispatch/internal/api/middleware"
	"github.com/jroosing/sipdispatch/internal/config"
)

// RegisterRoutes wires the admin API: health/stats for any node, in-flight
// request inspection and cancellation, and a cluster cooldown export
// endpoint served only by primary-mode nodes.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)

	api.GET("/requests", h.ListRequests)
	api.DELETE("/requests/:id", h.CancelRequest)

	api.GET("/cluster/export", h.ClusterExport)
}
