package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventBookSubmitted        = "BookSubmitted"
	EventBookMarkedReady      = "BookMarkedReady"
	EventBookChangesRequested = "BookChangesRequested"
	EventBookNotReady         = "BookNotReady"
	EventBookPublished        = "BookPublished"

	// EventBookReady is a legacy alias of EventBookMarkedReady still found in old rows.
	EventBookReady = "BookReady"
)

// BookEvent is a row of the transactional outbox. ProcessedAt is nil while the
// event is pending; DeadLetteredAt is set when the relay gave up on it.
// Payload stays raw JSON until the relay decodes it, so one malformed row
// cannot fail the scan of a whole batch.
type BookEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Type           string         `gorm:"type:varchar(64);not null"`
	Payload        datatypes.JSON `gorm:"not null"`
	OccurredAt     time.Time      `gorm:"not null;index:idx_outbox_pending,priority:2"`
	ProcessedAt    *time.Time     `gorm:"index:idx_outbox_pending,priority:1"`
	Attempts       int            `gorm:"not null;default:0"`
	LastError      string
	DeadLetteredAt *time.Time
}

func (BookEvent) TableName() string {
	return "book_event_outbox"
}

func (e *BookEvent) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// EventPayload is the structured body of a BookEvent. EventID is the
// idempotency key shared by every writer that derives notifications from it.
type EventPayload struct {
	Action     string     `json:"action,omitempty"`
	EventID    string     `json:"eventId"`
	BookID     string     `json:"bookId"`
	ActorID    string     `json:"actorId"`
	From       BookStatus `json:"from"`
	To         BookStatus `json:"to"`
	OccurredAt time.Time  `json:"occurredAt"`
}

func (p EventPayload) Encode() (datatypes.JSON, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// DecodeEventPayload parses an outbox payload. An empty payload decodes to the
// zero value; anything that is not a JSON object is an error.
func DecodeEventPayload(raw datatypes.JSON) (EventPayload, error) {
	var p EventPayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode event payload: %w", err)
	}
	return p, nil
}
