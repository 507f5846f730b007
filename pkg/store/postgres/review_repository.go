package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) Create(ctx context.Context, review *model.Review) error {
	if err := r.db.WithContext(ctx).Create(review).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("already reviewed: %w", apperr.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *ReviewRepository) Exists(ctx context.Context, bookID, readerID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Review{}).
		Where("book_id = ? AND reader_id = ?", bookID, readerID).
		Count(&n).Error
	return n > 0, err
}

// ReviewWithReader is a review joined with its author's display name.
type ReviewWithReader struct {
	ID         uuid.UUID `json:"id"`
	ReaderID   uuid.UUID `json:"readerId"`
	ReaderName string    `json:"readerName"`
	Rating     int       `json:"rating"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (r *ReviewRepository) ListForBook(ctx context.Context, bookID uuid.UUID, after *store.Cursor, limit int) ([]ReviewWithReader, error) {
	query := r.db.WithContext(ctx).
		Table("reviews").
		Select("reviews.id, reviews.reader_id, users.name AS reader_name, reviews.rating, reviews.body, reviews.created_at").
		Joins("JOIN users ON users.id = reviews.reader_id").
		Where("reviews.book_id = ?", bookID)

	var rows []ReviewWithReader
	err := store.Page(query, "reviews.created_at", "reviews.id", after, store.ClampLimit(limit)).Scan(&rows).Error
	return rows, err
}
