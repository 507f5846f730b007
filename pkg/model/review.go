package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_review_book_reader;index:idx_review_book_created,priority:1" json:"bookId"`
	ReaderID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_review_book_reader" json:"readerId"`
	Rating    int       `gorm:"not null" json:"rating"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"index:idx_review_book_created,priority:2" json:"createdAt"`
}

func (r *Review) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
