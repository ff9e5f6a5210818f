// README: Notification handlers for the caller's inbox.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rideflow/internal/http/middleware"
	"rideflow/internal/modules/notification"
	"rideflow/internal/types"
)

type NotificationHandler struct {
	notifications *notification.Service
}

func NewNotificationHandler(svc *notification.Service) *NotificationHandler {
	return &NotificationHandler{notifications: svc}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.notifications.ListForReceiver(c.Request.Context(), middleware.CallerUID(c), limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if items == nil {
		items = []notification.Notification{}
	}
	writeJSON(c, http.StatusOK, gin.H{"notifications": items})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), types.ID(id), middleware.CallerUID(c)); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
