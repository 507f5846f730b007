package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateIdempotent inserts notifications, silently skipping any whose
// (user_id, event_id) already exists. It returns the number of new rows.
func (r *NotificationRepository) CreateIdempotent(ctx context.Context, notifications []model.Notification) (int64, error) {
	if len(notifications) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&notifications)
	return result.RowsAffected, result.Error
}

type NotificationQuery struct {
	UserID     uuid.UUID
	UnreadOnly bool
	After      *store.Cursor
	Limit      int
}

func (r *NotificationRepository) List(ctx context.Context, q NotificationQuery) ([]model.Notification, error) {
	query := r.db.WithContext(ctx).Model(&model.Notification{}).Where("user_id = ?", q.UserID)
	if q.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	var notifications []model.Notification
	err := store.Page(query, "created_at", "id", q.After, store.ClampLimit(q.Limit)).Find(&notifications).Error
	return notifications, err
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&n).Error
	return n, err
}

// MarkRead sets read_at on one of the user's notifications. Marking an already
// read notification is a no-op; a notification the user does not own is not found.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return notFound(gorm.ErrRecordNotFound, "notification")
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", Now())
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Notification, error) {
	var notifications []model.Notification
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("user_id ASC").Find(&notifications).Error
	return notifications, err
}
