package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/sipdispatch/internal/api/models"
	"github.com/jroosing/sipdispatch/internal/cluster"
)

// ClusterExport godoc
// @Summary Export cooldown state
// @Description Serves this node's per-destination cooldown table for a cluster secondary to fetch. Only available in primary mode.
// @Tags cluster
// @Produce json
// @Success 200 {object} cluster.ExportData
// @Failure 403 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /cluster/export [get]
func (h *Handler) ClusterExport(c *gin.Context) {
	if !h.primary {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "this node is not a cluster primary"})
		return
	}

	if secret := h.cfg.Cluster.SharedSecret; secret != "" {
		if c.GetHeader("X-Cluster-Secret") != secret {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid cluster shared secret"})
			return
		}
	}

	stack := h.GetStack()
	if stack == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "dispatcher stack not ready"})
		return
	}

	c.JSON(http.StatusOK, cluster.BuildExport(h.cfg.Cluster.NodeID, stack.CooldownSnapshot))
}
