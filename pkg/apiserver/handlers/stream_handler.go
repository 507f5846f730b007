package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/bookflow/bookflow/pkg/apiserver/middleware"
	"github.com/bookflow/bookflow/pkg/config"
	"github.com/bookflow/bookflow/pkg/livepush"
)

type StreamHandler struct {
	hub *livepush.Hub
	cfg config.StreamConfig
}

func NewStreamHandler(hub *livepush.Hub, cfg config.StreamConfig) *StreamHandler {
	return &StreamHandler{hub: hub, cfg: cfg}
}

func (h *StreamHandler) Events(c *gin.Context) {
	user := middleware.CurrentUser(c)
	client := livepush.NewClient(user.ID, user.Role, h.cfg.Buffer)
	livepush.Stream(c, h.hub, client, livepush.StreamOptions{
		Heartbeat:   h.cfg.Heartbeat,
		MaxLifetime: h.cfg.MaxLifetime,
	})
}
