package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a keyset position in a (created_at DESC, id DESC) listing. The id
// tie-breaker keeps pages stable when several rows share a timestamp.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        uuid.UUID `json:"id"`
}

func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token from EncodeCursor. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// ClampLimit bounds a requested page size to [1, MaxPageSize].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Page applies newest-first keyset ordering to query. Columns may be qualified
// (e.g. "reviews.created_at") when the query joins other tables.
func Page(query *gorm.DB, createdAtCol, idCol string, after *Cursor, limit int) *gorm.DB {
	if after != nil {
		query = query.Where(
			fmt.Sprintf("((%s < ?) OR (%s = ? AND %s < ?))", createdAtCol, createdAtCol, idCol),
			after.CreatedAt, after.CreatedAt, after.ID,
		)
	}
	return query.
		Order(createdAtCol + " DESC").
		Order(idCol + " DESC").
		Limit(limit)
}

// NextCursor returns the token for the page after items when the page is full.
func NextCursor[T any](items []T, limit int, position func(T) Cursor) string {
	if len(items) == 0 || len(items) < limit {
		return ""
	}
	return EncodeCursor(position(items[len(items)-1]))
}
