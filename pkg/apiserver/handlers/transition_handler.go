package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apiserver/middleware"
	"github.com/bookflow/bookflow/pkg/workflow"
)

type TransitionHandler struct {
	engine *workflow.Engine
	logger *zap.Logger
}

func NewTransitionHandler(engine *workflow.Engine, logger *zap.Logger) *TransitionHandler {
	return &TransitionHandler{engine: engine, logger: logger}
}

type transitionRequest struct {
	Action string `json:"action"`
}

// Transition takes the action from the JSON body.
func (h *TransitionHandler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "kind": "invalid-action"})
		return
	}
	h.apply(c, workflow.Action(req.Action))
}

// Action returns a handler bound to one fixed action.
func (h *TransitionHandler) Action(action workflow.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.apply(c, action)
	}
}

func (h *TransitionHandler) apply(c *gin.Context, action workflow.Action) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.engine.Apply(c.Request.Context(), middleware.CurrentActor(c), id, action)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "bookId": res.BookID, "from": res.From, "to": res.To})
}
