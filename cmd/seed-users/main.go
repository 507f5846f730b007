package main

import (
	"context"
	"errors"
	"flag"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/config"
	"github.com/bookflow/bookflow/pkg/logging"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

// seed-users creates one account per role so a fresh database can log in.
// Existing emails are left untouched.
func main() {
	domain := flag.String("domain", "example.com", "email domain for the seeded accounts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	users := postgres.NewUserRepository(db.DB())
	ctx := context.Background()
	for _, role := range model.Roles {
		name := strings.ToLower(string(role))
		user := &model.User{
			ID:    uuid.New(),
			Email: name + "@" + *domain,
			Name:  string(role),
			Role:  role,
		}
		err := users.Create(ctx, user)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			logger.Info("user exists", zap.String("email", user.Email))
		case err != nil:
			logger.Fatal("failed to create user", zap.String("email", user.Email), zap.Error(err))
		default:
			logger.Info("user created", zap.String("email", user.Email), zap.String("role", name))
		}
	}
}
