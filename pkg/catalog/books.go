// Package catalog owns book drafting, role-scoped book listings and reviews.
// Status changes are not here; they go through the workflow engine.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

type BookService struct {
	books  *postgres.BookRepository
	logger *zap.Logger
}

func NewBookService(books *postgres.BookRepository, logger *zap.Logger) *BookService {
	return &BookService{books: books, logger: logger}
}

// visibility scopes what each role may see: authors their own books, the
// other roles the stage of the workflow they act on.
func visibility(actor model.Actor, status *model.BookStatus) (postgres.BookFilter, error) {
	var f postgres.BookFilter
	switch actor.Role {
	case model.RoleAuthor:
		id := actor.ID
		f.AuthorID = &id
		f.Status = status
	case model.RoleEditor:
		s := model.BookEditing
		f.Status = &s
	case model.RolePublisher:
		s := model.BookReady
		f.Status = &s
	case model.RoleReader:
		s := model.BookPublished
		f.Status = &s
	default:
		return f, apperr.ErrForbidden
	}
	return f, nil
}

type ListBooksQuery struct {
	// Status only narrows an author's own listing.
	Status *model.BookStatus
	After  *store.Cursor
	Limit  int
}

func (s *BookService) List(ctx context.Context, actor model.Actor, q ListBooksQuery) ([]model.Book, string, error) {
	if q.Status != nil && !q.Status.Valid() {
		q.Status = nil
	}
	filter, err := visibility(actor, q.Status)
	if err != nil {
		return nil, "", err
	}
	limit := store.ClampLimit(q.Limit)
	books, err := s.books.List(ctx, filter, q.After, limit)
	if err != nil {
		return nil, "", err
	}
	next := store.NextCursor(books, limit, func(b model.Book) store.Cursor {
		return store.Cursor{CreatedAt: b.CreatedAt, ID: b.ID}
	})
	return books, next, nil
}

// Get returns a book visible to actor; invisible books are reported as not found.
func (s *BookService) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Book, error) {
	filter, err := visibility(actor, nil)
	if err != nil {
		return nil, err
	}
	filter.ID = &id
	return s.books.Find(ctx, filter)
}

type Draft struct {
	Title   string
	Content string
}

func (s *BookService) Create(ctx context.Context, actor model.Actor, d Draft) (*model.Book, error) {
	if actor.Role != model.RoleAuthor {
		return nil, fmt.Errorf("only authors create books: %w", apperr.ErrForbidden)
	}
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Content) == "" {
		return nil, fmt.Errorf("title and content are required: %w", apperr.ErrInvalidInput)
	}
	now := postgres.Now()
	book := &model.Book{
		ID:        uuid.New(),
		Title:     d.Title,
		Content:   d.Content,
		Status:    model.BookDraft,
		AuthorID:  actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.books.Create(ctx, book); err != nil {
		return nil, err
	}
	s.logger.Info("book drafted", zap.String("book_id", book.ID.String()), zap.String("user_id", actor.ID.String()))
	return book, nil
}

// ownDraft matches only the actor's book while it is still a draft.
func ownDraft(actor model.Actor, id uuid.UUID) postgres.BookFilter {
	draft := model.BookDraft
	return postgres.BookFilter{ID: &id, AuthorID: &actor.ID, Status: &draft}
}

type DraftPatch struct {
	Title   *string
	Content *string
}

// Update edits title and/or content. It is a conditional write: a book that
// is not the actor's draft any more yields a conflict.
func (s *BookService) Update(ctx context.Context, actor model.Actor, id uuid.UUID, p DraftPatch) (*model.Book, error) {
	if actor.Role != model.RoleAuthor {
		return nil, fmt.Errorf("only authors edit books: %w", apperr.ErrForbidden)
	}
	updates := map[string]interface{}{}
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
		updates["title"] = *p.Title
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) != "" {
		updates["content"] = *p.Content
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("title and/or content required: %w", apperr.ErrInvalidInput)
	}

	n, err := s.books.UpdateWhere(ctx, ownDraft(actor, id), updates)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("book is not an editable draft: %w", apperr.ErrConflict)
	}
	return s.books.GetByID(ctx, id)
}

// Delete removes the actor's draft. Books that left draft are never deleted.
func (s *BookService) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	if actor.Role != model.RoleAuthor {
		return fmt.Errorf("only authors delete books: %w", apperr.ErrForbidden)
	}
	n, err := s.books.DeleteWhere(ctx, ownDraft(actor, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("book is not a deletable draft: %w", apperr.ErrConflict)
	}
	s.logger.Info("draft deleted", zap.String("book_id", id.String()), zap.String("user_id", actor.ID.String()))
	return nil
}
