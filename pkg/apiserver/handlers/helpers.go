package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/store"
)

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// page reads limit and cursor query parameters.
func page(c *gin.Context) (*store.Cursor, int, error) {
	after, err := store.DecodeCursor(c.Query("cursor"))
	if err != nil {
		return nil, 0, err
	}
	return after, store.ClampLimit(parseLimit(c.Query("limit"), store.DefaultPageSize)), nil
}

// pathID parses the :id parameter. A malformed id cannot name an existing
// row, so it is reported as not found.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": "not-found"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError writes err as {"error", "kind"} with the status of its kind.
// Internal errors are logged and never echoed to the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	if errors.Is(err, store.ErrInvalidCursor) {
		err = errors.Join(err, apperr.ErrInvalidInput)
	}
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error", "kind": "internal"})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.Kind(err)})
}

type pageResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

func newPage[T any](items []T, next string) pageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{Items: items, NextCursor: next}
}
