package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apiserver/middleware"
	"github.com/bookflow/bookflow/pkg/catalog"
	"github.com/bookflow/bookflow/pkg/model"
)

type BookHandler struct {
	books  *catalog.BookService
	logger *zap.Logger
}

func NewBookHandler(books *catalog.BookService, logger *zap.Logger) *BookHandler {
	return &BookHandler{books: books, logger: logger}
}

type bookWriteRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

func (h *BookHandler) List(c *gin.Context) {
	after, limit, err := page(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	q := catalog.ListBooksQuery{After: after, Limit: limit}
	if s := model.BookStatus(c.Query("status")); s.Valid() {
		q.Status = &s
	}

	books, next, err := h.books.List(c.Request.Context(), middleware.CurrentActor(c), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newPage(books, next))
}

func (h *BookHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	book, err := h.books.Get(c.Request.Context(), middleware.CurrentActor(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *BookHandler) Create(c *gin.Context) {
	var req bookWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == nil || req.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and content are required", "kind": "invalid-input"})
		return
	}
	book, err := h.books.Create(c.Request.Context(), middleware.CurrentActor(c), catalog.Draft{Title: *req.Title, Content: *req.Content})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *BookHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req bookWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and/or content required", "kind": "invalid-input"})
		return
	}
	book, err := h.books.Update(c.Request.Context(), middleware.CurrentActor(c), id, catalog.DraftPatch{Title: req.Title, Content: req.Content})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *BookHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.books.Delete(c.Request.Context(), middleware.CurrentActor(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
