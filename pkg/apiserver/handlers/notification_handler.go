package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apiserver/middleware"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

type NotificationHandler struct {
	notifications *postgres.NotificationRepository
	logger        *zap.Logger
}

func NewNotificationHandler(notifications *postgres.NotificationRepository, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

func (h *NotificationHandler) List(c *gin.Context) {
	after, limit, err := page(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	items, err := h.notifications.List(c.Request.Context(), postgres.NotificationQuery{
		UserID:     middleware.CurrentActor(c).ID,
		UnreadOnly: c.Query("unread") == "true",
		After:      after,
		Limit:      limit,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	next := store.NextCursor(items, limit, func(n model.Notification) store.Cursor {
		return store.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	c.JSON(http.StatusOK, newPage(items, next))
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.notifications.UnreadCount(c.Request.Context(), middleware.CurrentActor(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.CurrentActor(c).ID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.CurrentActor(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": n})
}
