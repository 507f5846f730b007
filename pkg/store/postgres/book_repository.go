package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
)

type BookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) *BookRepository {
	return &BookRepository{db: db}
}

func (r *BookRepository) Create(ctx context.Context, book *model.Book) error {
	return r.db.WithContext(ctx).Create(book).Error
}

func (r *BookRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := r.db.WithContext(ctx).First(&book, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "book")
	}
	return &book, nil
}

// BookFilter narrows a listing; zero fields are ignored.
type BookFilter struct {
	ID       *uuid.UUID
	AuthorID *uuid.UUID
	Status   *model.BookStatus
}

func (f BookFilter) apply(query *gorm.DB) *gorm.DB {
	if f.ID != nil {
		query = query.Where("id = ?", *f.ID)
	}
	if f.AuthorID != nil {
		query = query.Where("author_id = ?", *f.AuthorID)
	}
	if f.Status != nil {
		query = query.Where("status = ?", *f.Status)
	}
	return query
}

func (r *BookRepository) Find(ctx context.Context, filter BookFilter) (*model.Book, error) {
	var book model.Book
	if err := filter.apply(r.db.WithContext(ctx)).First(&book).Error; err != nil {
		return nil, notFound(err, "book")
	}
	return &book, nil
}

func (r *BookRepository) List(ctx context.Context, filter BookFilter, after *store.Cursor, limit int) ([]model.Book, error) {
	var books []model.Book
	query := filter.apply(r.db.WithContext(ctx).Model(&model.Book{}).Omit("content"))
	err := store.Page(query, "created_at", "id", after, limit).Find(&books).Error
	return books, err
}

// UpdateWhere applies updates only to the row matching filter and reports how
// many rows changed. Zero means the predicate no longer holds.
func (r *BookRepository) UpdateWhere(ctx context.Context, filter BookFilter, updates map[string]interface{}) (int64, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = Now()
	}
	result := filter.apply(r.db.WithContext(ctx).Model(&model.Book{})).Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *BookRepository) DeleteWhere(ctx context.Context, filter BookFilter) (int64, error) {
	result := filter.apply(r.db.WithContext(ctx)).Delete(&model.Book{})
	return result.RowsAffected, result.Error
}
