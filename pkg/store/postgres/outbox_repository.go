package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bookflow/bookflow/pkg/model"
)

type OutboxRepository struct {
	db            *gorm.DB
	notifyChannel string
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// WithNotifyChannel makes Append issue pg_notify on channel so a listening
// relay wakes up as soon as the surrounding transaction commits. Ignored on
// non-postgres databases.
func (r *OutboxRepository) WithNotifyChannel(channel string) *OutboxRepository {
	return &OutboxRepository{db: r.db, notifyChannel: channel}
}

func (r *OutboxRepository) Append(ctx context.Context, event *model.BookEvent) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(event).Error; err != nil {
		return err
	}
	if r.notifyChannel != "" && IsPostgres(r.db) {
		return db.Exec("SELECT pg_notify(?, ?)", r.notifyChannel, event.ID.String()).Error
	}
	return nil
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]model.BookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []model.BookEvent
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("occurred_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.BookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", processedAt).Error
}

// RecordFailure bumps the attempt counter and stores the last error. The event
// stays pending so the next poll retries it.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) (int, error) {
	err := r.db.WithContext(ctx).
		Model(&model.BookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
	if err != nil {
		return 0, err
	}
	var event model.BookEvent
	if err := r.db.WithContext(ctx).Select("attempts").First(&event, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return event.Attempts, nil
}

// DeadLetter takes the event out of the pending set and keeps it for manual
// inspection.
func (r *OutboxRepository) DeadLetter(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.BookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     at,
			"dead_lettered_at": at,
			"last_error":       reason,
		}).Error
}

func (r *OutboxRepository) ListDeadLettered(ctx context.Context, limit int) ([]model.BookEvent, error) {
	var events []model.BookEvent
	err := r.db.WithContext(ctx).
		Where("dead_lettered_at IS NOT NULL").
		Order("dead_lettered_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.BookEvent{}).Where("processed_at IS NULL").Count(&n).Error
	return n, err
}

func (r *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.BookEvent, error) {
	var event model.BookEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "outbox event")
	}
	return &event, nil
}
