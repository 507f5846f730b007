package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/model"
)

// RoleDirectory expands a role into its current members.
type RoleDirectory interface {
	ListIDsByRole(ctx context.Context, role model.Role) ([]uuid.UUID, error)
}

// Recipients resolves a at the moment of the call: a role bucket expands to
// whoever holds the role now.
func Recipients(ctx context.Context, dir RoleDirectory, a Audience, book *model.Book) ([]uuid.UUID, error) {
	if a.Author {
		return []uuid.UUID{book.AuthorID}, nil
	}
	return dir.ListIDsByRole(ctx, a.Role)
}

type template struct {
	prefix string
	body   string
}

var templates = map[string]template{
	model.EventBookSubmitted:        {"Submitted: ", "A book was submitted for editing."},
	model.EventBookMarkedReady:      {"Ready: ", "A book is ready for publishing."},
	model.EventBookChangesRequested: {"Changes requested: ", "Your draft was returned for changes by an editor."},
	model.EventBookNotReady:         {"Not ready: ", "A book was returned to editing by the publisher."},
	model.EventBookPublished:        {"Published: ", "Your book is now published."},
}

// BuildNotifications renders one inbox row per recipient. All rows share
// eventID, which makes re-delivery of the same event a no-op.
func BuildNotifications(eventType, eventID string, book *model.Book, recipients []uuid.UUID, createdAt time.Time) []model.Notification {
	eventType = CanonicalEventType(eventType)
	tpl, ok := templates[eventType]
	if !ok {
		tpl = template{prefix: "Updated: ", body: "A book changed status."}
	}

	out := make([]model.Notification, 0, len(recipients))
	for _, userID := range recipients {
		out = append(out, model.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      eventType,
			BookID:    book.ID,
			Title:     tpl.prefix + book.Title,
			Body:      tpl.body,
			CreatedAt: createdAt,
			EventID:   eventID,
		})
	}
	return out
}

// NotificationCreated is the live hint sent to each recipient. ID carries the
// event id; clients re-query their inbox for the row itself.
type NotificationCreated struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	BookID    uuid.UUID `json:"bookId"`
	CreatedAt time.Time `json:"createdAt"`
}

type StatusChanged struct {
	BookID uuid.UUID        `json:"bookId"`
	From   model.BookStatus `json:"from"`
	To     model.BookStatus `json:"to"`
}

// PushNotifications emits notification.created to every recipient of ns.
func PushNotifications(pub livepush.Publisher, ns []model.Notification) {
	for _, n := range ns {
		pub.PublishToUser(n.UserID, livepush.EventNotificationCreated, NotificationCreated{
			ID:        n.EventID,
			Title:     n.Title,
			BookID:    n.BookID,
			CreatedAt: n.CreatedAt,
		})
	}
}

// PushStatusChanged tells the audience of t that the book moved.
func PushStatusChanged(pub livepush.Publisher, t Transition, book *model.Book) {
	data := StatusChanged{BookID: book.ID, From: t.From, To: t.To}
	if t.Notify.Author {
		pub.PublishToUser(book.AuthorID, livepush.EventBookStatusChanged, data)
		return
	}
	pub.PublishToRole(t.Notify.Role, livepush.EventBookStatusChanged, data)
}
