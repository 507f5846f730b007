package outbox

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookflow/bookflow/pkg/config"
	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

// FromStore builds a relay over the database repositories. mirror and wake
// may be nil.
func FromStore(db *gorm.DB, publisher livepush.Publisher, mirror Mirror, wake <-chan struct{}, cfg config.OutboxRelayConfig, logger *zap.Logger) *Relay {
	return NewRelay(Deps{
		Events:        postgres.NewOutboxRepository(db),
		Books:         postgres.NewBookRepository(db),
		Users:         postgres.NewUserRepository(db),
		Notifications: postgres.NewNotificationRepository(db),
		Publisher:     publisher,
		Mirror:        mirror,
		Wake:          wake,
	}, Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		MaxAttempts:  cfg.MaxAttempts,
	}, logger)
}
