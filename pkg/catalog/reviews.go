package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/metrics"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

// readerLimiter is a token bucket per reader. A bucket left alone for a full
// refill is indistinguishable from a new one, so idle buckets are swept and the
// map holds at most the readers active within one refill window.
type readerLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[uuid.UUID]*readerBucket
}

type readerBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newReaderLimiter(perMinute float64, burst int) *readerLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &readerLimiter{limit: rate.Inf, burst: burst, now: time.Now, limiters: make(map[uuid.UUID]*readerBucket)}
	if perMinute > 0 {
		l.limit = rate.Limit(perMinute / 60)
		l.idle = time.Duration(float64(burst) / float64(l.limit) * float64(time.Second))
	}
	return l
}

func (l *readerLimiter) allow(readerID uuid.UUID) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for id, b := range l.limiters {
			if now.Sub(b.seen) >= l.idle {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.limiters[readerID]
	if !ok {
		b = &readerBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[readerID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *readerLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

type ReviewService struct {
	books   *postgres.BookRepository
	reviews *postgres.ReviewRepository
	limiter *readerLimiter
	logger  *zap.Logger
}

func NewReviewService(books *postgres.BookRepository, reviews *postgres.ReviewRepository, perMinute float64, burst int, logger *zap.Logger) *ReviewService {
	return &ReviewService{
		books:   books,
		reviews: reviews,
		limiter: newReaderLimiter(perMinute, burst),
		logger:  logger,
	}
}

// publishedBook hides every unpublished book behind not-found.
func (s *ReviewService) publishedBook(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	book, err := s.books.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.Status != model.BookPublished {
		return nil, fmt.Errorf("book: %w", apperr.ErrNotFound)
	}
	return book, nil
}

func (s *ReviewService) List(ctx context.Context, bookID uuid.UUID, after *store.Cursor, limit int) ([]postgres.ReviewWithReader, string, error) {
	if _, err := s.publishedBook(ctx, bookID); err != nil {
		return nil, "", err
	}
	limit = store.ClampLimit(limit)
	rows, err := s.reviews.ListForBook(ctx, bookID, after, limit)
	if err != nil {
		return nil, "", err
	}
	next := store.NextCursor(rows, limit, func(r postgres.ReviewWithReader) store.Cursor {
		return store.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return rows, next, nil
}

type NewReview struct {
	Rating int
	Body   string
}

// Submit records a reader's single review of a published book.
func (s *ReviewService) Submit(ctx context.Context, actor model.Actor, bookID uuid.UUID, in NewReview) (*model.Review, error) {
	if actor.Role != model.RoleReader {
		return nil, fmt.Errorf("only readers review books: %w", apperr.ErrForbidden)
	}
	if !s.limiter.allow(actor.ID) {
		metrics.ReviewsRateLimited.Inc()
		return nil, apperr.ErrRateLimited
	}

	book, err := s.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.Status != model.BookPublished {
		return nil, fmt.Errorf("book is not published: %w", apperr.ErrConflict)
	}
	if in.Rating < model.MinRating || in.Rating > model.MaxRating || strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("rating must be %d-%d and body non-empty: %w", model.MinRating, model.MaxRating, apperr.ErrInvalidInput)
	}
	// the unique index still settles concurrent submissions
	exists, err := s.reviews.Exists(ctx, bookID, actor.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("already reviewed: %w", apperr.ErrConflict)
	}

	review := &model.Review{
		ID:        uuid.New(),
		BookID:    bookID,
		ReaderID:  actor.ID,
		Rating:    in.Rating,
		Body:      in.Body,
		CreatedAt: postgres.Now(),
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, err
	}
	s.logger.Info("review submitted", zap.String("book_id", bookID.String()), zap.String("user_id", actor.ID.String()))
	return review, nil
}
