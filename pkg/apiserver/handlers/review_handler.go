package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apiserver/middleware"
	"github.com/bookflow/bookflow/pkg/catalog"
)

type ReviewHandler struct {
	reviews *catalog.ReviewService
	logger  *zap.Logger
}

func NewReviewHandler(reviews *catalog.ReviewService, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, logger: logger}
}

type reviewRequest struct {
	Rating *int   `json:"rating"`
	Body   string `json:"body"`
}

// List is public; only published books have reviews to show.
func (h *ReviewHandler) List(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	after, limit, err := page(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	rows, next, err := h.reviews.List(c.Request.Context(), id, after, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newPage(rows, next))
}

func (h *ReviewHandler) Create(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "kind": "invalid-input"})
		return
	}
	in := catalog.NewReview{Body: req.Body}
	if req.Rating != nil {
		in.Rating = *req.Rating
	}
	review, err := h.reviews.Submit(c.Request.Context(), middleware.CurrentActor(c), id, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}
