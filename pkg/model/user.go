package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAuthor    Role = "Author"
	RoleEditor    Role = "Editor"
	RolePublisher Role = "Publisher"
	RoleReader    Role = "Reader"
)

var Roles = []Role{RoleAuthor, RoleEditor, RolePublisher, RoleReader}

func (r Role) Valid() bool {
	switch r {
	case RoleAuthor, RoleEditor, RolePublisher, RoleReader:
		return true
	default:
		return false
	}
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Role      Role      `gorm:"type:varchar(20);not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}
