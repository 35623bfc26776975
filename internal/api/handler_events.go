package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

type publishEventRequest struct {
	Topic   string          `json:"topic" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// PublishEvent is the integration point for domain mutations: the
// announcement/schedule/catalogue code (or an external ingest process) posts
// a topic event here and the notifier takes care of both delivery paths.
func (h *Handler) PublishEvent(c *gin.Context) {
	var req publishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.notifier.Publish(req.Topic, req.Payload)
	c.Status(http.StatusAccepted)
}
