package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification is unique per (UserID, EventID) so repeated delivery of one
// outbox event never produces a second inbox row for the same recipient.
type Notification struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_notification_user_event;index:idx_notification_user_created,priority:1" json:"userId"`
	Type      string     `gorm:"type:varchar(64);not null" json:"type"`
	BookID    uuid.UUID  `gorm:"type:uuid;not null" json:"bookId"`
	Title     string     `gorm:"not null" json:"title"`
	Body      string     `gorm:"not null" json:"body"`
	CreatedAt time.Time  `gorm:"not null;index:idx_notification_user_created,priority:2" json:"createdAt"`
	ReadAt    *time.Time `json:"readAt"`
	EventID   string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_notification_user_event" json:"eventId"`
}

func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
