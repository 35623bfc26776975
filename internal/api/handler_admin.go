package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListConnections returns snapshots of all live hub connections for the
// diagnostics view.
func (h *Handler) ListConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": h.hub.ListConnections()})
}

// CleanupTargets sweeps all delivery targets and deletes those reporting
// permanent failure. Operator-triggered maintenance.
func (h *Handler) CleanupTargets(c *gin.Context) {
	result, err := h.delivery.CleanupInvalidTargets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"total": result.Total, "removed": result.Removed})
}
