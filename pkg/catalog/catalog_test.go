package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
	"github.com/bookflow/bookflow/pkg/store/postgres"
	"github.com/bookflow/bookflow/pkg/store/storetest"
)

func newBookService(s *postgres.Store) *BookService {
	return NewBookService(postgres.NewBookRepository(s.DB()), zap.NewNop())
}

func newReviewService(s *postgres.Store, perMinute float64, burst int) *ReviewService {
	return NewReviewService(postgres.NewBookRepository(s.DB()), postgres.NewReviewRepository(s.DB()), perMinute, burst, zap.NewNop())
}

func strPtr(s string) *string { return &s }

func TestCreateRequiresAuthorAndFields(t *testing.T) {
	s := storetest.New(t)
	svc := newBookService(s)
	ctx := context.Background()
	author := storetest.Actor(storetest.CreateUser(t, s, model.RoleAuthor))
	editor := storetest.Actor(storetest.CreateUser(t, s, model.RoleEditor))

	_, err := svc.Create(ctx, editor, Draft{Title: "t", Content: "c"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Create(ctx, author, Draft{Title: "  ", Content: "c"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	book, err := svc.Create(ctx, author, Draft{Title: "Dune", Content: "Arrakis"})
	require.NoError(t, err)
	assert.Equal(t, model.BookDraft, book.Status)
	assert.Equal(t, author.ID, book.AuthorID)
}

func TestDraftEditsAreConditional(t *testing.T) {
	s := storetest.New(t)
	svc := newBookService(s)
	ctx := context.Background()
	authorUser := storetest.CreateUser(t, s, model.RoleAuthor)
	author := storetest.Actor(authorUser)
	other := storetest.Actor(storetest.CreateUser(t, s, model.RoleAuthor))

	draft := storetest.CreateBook(t, s, authorUser, model.BookDraft)
	editing := storetest.CreateBook(t, s, authorUser, model.BookEditing)

	got, err := svc.Update(ctx, author, draft.ID, DraftPatch{Title: strPtr("New title")})
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, draft.Content, got.Content)

	_, err = svc.Update(ctx, author, draft.ID, DraftPatch{})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Update(ctx, other, draft.ID, DraftPatch{Title: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Update(ctx, author, editing.ID, DraftPatch{Content: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.ErrorIs(t, svc.Delete(ctx, author, editing.ID), apperr.ErrConflict)
	assert.ErrorIs(t, svc.Delete(ctx, other, draft.ID), apperr.ErrConflict)
	require.NoError(t, svc.Delete(ctx, author, draft.ID))

	_, err = svc.Get(ctx, author, draft.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVisibilityByRole(t *testing.T) {
	s := storetest.New(t)
	svc := newBookService(s)
	ctx := context.Background()
	authorUser := storetest.CreateUser(t, s, model.RoleAuthor)
	otherAuthor := storetest.CreateUser(t, s, model.RoleAuthor)

	books := map[model.BookStatus]*model.Book{}
	for _, status := range model.BookStatuses {
		books[status] = storetest.CreateBook(t, s, authorUser, status)
	}
	storetest.CreateBook(t, s, otherAuthor, model.BookEditing)

	expect := map[model.Role]int{
		model.RoleEditor:    2,
		model.RolePublisher: 1,
		model.RoleReader:    1,
	}
	for role, n := range expect {
		actor := storetest.Actor(storetest.CreateUser(t, s, role))
		items, _, err := svc.List(ctx, actor, ListBooksQuery{})
		require.NoError(t, err)
		assert.Len(t, items, n, role)
	}

	author := storetest.Actor(authorUser)
	items, _, err := svc.List(ctx, author, ListBooksQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 4)

	ready := model.BookReady
	items, _, err = svc.List(ctx, author, ListBooksQuery{Status: &ready})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, books[model.BookReady].ID, items[0].ID)

	reader := storetest.Actor(storetest.CreateUser(t, s, model.RoleReader))
	_, err = svc.Get(ctx, reader, books[model.BookDraft].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	got, err := svc.Get(ctx, reader, books[model.BookPublished].ID)
	require.NoError(t, err)
	assert.Equal(t, books[model.BookPublished].Content, got.Content)

	_, _, err = svc.List(ctx, model.Actor{ID: uuid.New(), Role: "Admin"}, ListBooksQuery{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestReviewSubmission(t *testing.T) {
	s := storetest.New(t)
	svc := newReviewService(s, 0, 10)
	ctx := context.Background()
	authorUser := storetest.CreateUser(t, s, model.RoleAuthor)
	reader := storetest.Actor(storetest.CreateUser(t, s, model.RoleReader))
	published := storetest.CreateBook(t, s, authorUser, model.BookPublished)
	ready := storetest.CreateBook(t, s, authorUser, model.BookReady)

	_, err := svc.Submit(ctx, storetest.Actor(authorUser), published.ID, NewReview{Rating: 5, Body: "mine"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Submit(ctx, reader, uuid.New(), NewReview{Rating: 5, Body: "?"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Submit(ctx, reader, ready.ID, NewReview{Rating: 5, Body: "early"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Submit(ctx, reader, published.ID, NewReview{Rating: 6, Body: "too good"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	review, err := svc.Submit(ctx, reader, published.ID, NewReview{Rating: 4, Body: "Great"})
	require.NoError(t, err)
	assert.Equal(t, 4, review.Rating)

	_, err = svc.Submit(ctx, reader, published.ID, NewReview{Rating: 3, Body: "Again"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorContains(t, err, "already reviewed")

	rows, next, err := svc.List(ctx, published.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, next)

	_, _, err = svc.List(ctx, ready.ID, nil, 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReviewRateLimit(t *testing.T) {
	s := storetest.New(t)
	svc := newReviewService(s, 1, 2)
	ctx := context.Background()
	authorUser := storetest.CreateUser(t, s, model.RoleAuthor)
	reader := storetest.Actor(storetest.CreateUser(t, s, model.RoleReader))
	other := storetest.Actor(storetest.CreateUser(t, s, model.RoleReader))

	for i := 0; i < 2; i++ {
		book := storetest.CreateBook(t, s, authorUser, model.BookPublished)
		_, err := svc.Submit(ctx, reader, book.ID, NewReview{Rating: 5, Body: "ok"})
		require.NoError(t, err)
	}
	book := storetest.CreateBook(t, s, authorUser, model.BookPublished)
	_, err := svc.Submit(ctx, reader, book.ID, NewReview{Rating: 5, Body: "ok"})
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	_, err = svc.Submit(ctx, other, book.ID, NewReview{Rating: 5, Body: "ok"})
	require.NoError(t, err, "buckets are per reader")
}

func TestReaderLimiterEvictsIdleBuckets(t *testing.T) {
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	l := newReaderLimiter(60, 2) // one token a second, full after two
	l.now = func() time.Time { return clock }
	require.Equal(t, 2*time.Second, l.idle)

	busy := uuid.New()
	assert.True(t, l.allow(busy))
	assert.True(t, l.allow(busy))
	assert.False(t, l.allow(busy))
	for i := 0; i < 50; i++ {
		assert.True(t, l.allow(uuid.New()))
	}
	assert.Equal(t, 51, l.size())

	// within the window nothing is swept and the exhausted bucket stays empty
	clock = clock.Add(500 * time.Millisecond)
	assert.False(t, l.allow(busy))
	assert.Equal(t, 51, l.size())

	clock = clock.Add(2 * time.Second)
	assert.True(t, l.allow(busy))
	assert.Equal(t, 1, l.size(), "idle readers are evicted")
}

func TestReaderLimiterUnlimitedKeepsNoState(t *testing.T) {
	l := newReaderLimiter(0, 1)
	for i := 0; i < 10; i++ {
		assert.True(t, l.allow(uuid.New()))
	}
	assert.Zero(t, l.size())
}

func TestReviewPaginationStableUnderInserts(t *testing.T) {
	s := storetest.New(t)
	svc := newReviewService(s, 0, 100)
	ctx := context.Background()
	authorUser := storetest.CreateUser(t, s, model.RoleAuthor)
	book := storetest.CreateBook(t, s, authorUser, model.BookPublished)
	repo := postgres.NewReviewRepository(s.DB())

	base := postgres.Now().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		reader := storetest.CreateUser(t, s, model.RoleReader)
		r := &model.Review{BookID: book.ID, ReaderID: reader.ID, Rating: 3, Body: "fine", CreatedAt: base}
		require.NoError(t, repo.Create(ctx, r))
		ids = append(ids, r.ID)
	}

	seen := map[uuid.UUID]bool{}
	var after *store.Cursor
	for page := 0; page < 10; page++ {
		rows, next, err := svc.List(ctx, book.ID, after, 2)
		require.NoError(t, err)
		for _, r := range rows {
			assert.False(t, seen[r.ID])
			seen[r.ID] = true
		}
		if page == 0 {
			late := storetest.CreateUser(t, s, model.RoleReader)
			require.NoError(t, repo.Create(ctx, &model.Review{BookID: book.ID, ReaderID: late.ID, Rating: 1, Body: "late", CreatedAt: base}))
		}
		if next == "" {
			break
		}
		after, err = store.DecodeCursor(next)
		require.NoError(t, err)
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}
