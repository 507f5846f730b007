// Package storetest provides in-memory sqlite stores for package tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

// New opens a migrated in-memory database. The pool is capped at one
// connection: each sqlite connection would otherwise see its own empty
// database, and writers are serialized the way row locks would serialize them.
func New(t testing.TB) *postgres.Store {
	t.Helper()

	db, err := postgres.Open(sqlite.Open(":memory:"), logger.Discard)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	s := postgres.NewStoreFromDB(db)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func CreateUser(t testing.TB, s *postgres.Store, role model.Role) *model.User {
	t.Helper()

	id := uuid.New()
	user := &model.User{
		ID:    id,
		Email: fmt.Sprintf("%s-%s@example.test", role, id.String()[:8]),
		Name:  fmt.Sprintf("%s %s", role, id.String()[:4]),
		Role:  role,
	}
	if err := postgres.NewUserRepository(s.DB()).Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func CreateBook(t testing.TB, s *postgres.Store, author *model.User, status model.BookStatus) *model.Book {
	t.Helper()

	book := &model.Book{
		Title:    "Book " + uuid.NewString()[:6],
		Content:  "Once upon a time.",
		Status:   status,
		AuthorID: author.ID,
	}
	if err := postgres.NewBookRepository(s.DB()).Create(context.Background(), book); err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func Actor(u *model.User) model.Actor {
	return model.Actor{ID: u.ID, Role: u.Role}
}
