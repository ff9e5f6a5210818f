// README: Websocket subscription to the caller's ride event channel.
package handlers

import (
	"github.com/gin-gonic/gin"

	"rideflow/internal/fanout"
	"rideflow/internal/http/middleware"
)

type WSHandler struct {
	hub *fanout.Hub
}

func NewWSHandler(hub *fanout.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) Subscribe(c *gin.Context) {
	channel := fanout.ChannelFor(middleware.CallerRole(c), middleware.CallerUID(c))
	if err := h.hub.Serve(c.Writer, c.Request, channel); err != nil {
		// the upgrader has already answered the client
		_ = c.Error(err)
	}
}
