package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookStatus string

const (
	BookDraft     BookStatus = "draft"
	BookEditing   BookStatus = "editing"
	BookReady     BookStatus = "ready"
	BookPublished BookStatus = "published"
)

func (s BookStatus) Valid() bool {
	switch s {
	case BookDraft, BookEditing, BookReady, BookPublished:
		return true
	default:
		return false
	}
}

var BookStatuses = []BookStatus{BookDraft, BookEditing, BookReady, BookPublished}

// Book status only changes through workflow transitions; title and content are
// editable while the book is a draft.
type Book struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string     `gorm:"not null" json:"title"`
	Content     string     `gorm:"type:text;not null" json:"content,omitempty"`
	Status      BookStatus `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	AuthorID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"authorId"`
	EditorID    *uuid.UUID `gorm:"type:uuid" json:"editorId"`
	PublisherID *uuid.UUID `gorm:"type:uuid" json:"publisherId"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (b *Book) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BookDraft
	}
	return nil
}
