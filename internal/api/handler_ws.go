package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"festival-sync-backend/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The festival app serves the frontend from a separate origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket, registers the connection with
// the hub and consumes inbound messages until the client goes away.
func (h *Handler) ServeWS(writeTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("api: websocket upgrade failed: %v", err)
			return
		}

		handle := hub.NewConnectionHandle(conn, writeTimeout)
		h.hub.Register(handle)
		h.hub.ReadLoop(handle)
	}
}
