package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/metrics"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store/postgres"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Engine applies transitions. Concurrency is optimistic: the status change is
// a conditional update, and losing a race surfaces as apperr.ErrConflict.
type Engine struct {
	store         TxRunner
	publisher     livepush.Publisher
	logger        *zap.Logger
	tracer        trace.Tracer
	notifyChannel string
	now           func() time.Time
	newEventID    func() string
}

type Option func(*Engine)

// WithNotifyChannel makes the outbox insert signal a postgres LISTEN channel.
func WithNotifyChannel(channel string) Option {
	return func(e *Engine) { e.notifyChannel = channel }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store TxRunner, publisher livepush.Publisher, logger *zap.Logger, opts ...Option) *Engine {
	if publisher == nil {
		publisher = livepush.NopPublisher{}
	}
	e := &Engine{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		tracer:     otel.Tracer("bookflow/workflow"),
		now:        postgres.Now,
		newEventID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates and performs action on the book. The status change, the
// outbox row and the immediate notifications commit together or not at all;
// live pushes are sent only after commit.
func (e *Engine) Apply(ctx context.Context, actor model.Actor, bookID uuid.UUID, action Action) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.apply",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.String("workflow.action", string(action)),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := e.apply(ctx, actor, bookID, action)
	metrics.TransitionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", apperr.Kind(err)))
		return nil, err
	}
	metrics.TransitionDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	return res, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.Kind(err)
}

type committed struct {
	transition    Transition
	book          *model.Book
	notifications []model.Notification
}

func (e *Engine) apply(ctx context.Context, actor model.Actor, bookID uuid.UUID, action Action) (*Result, error) {
	t, ok := Lookup(action)
	if !ok {
		return nil, fmt.Errorf("%q: %w", action, apperr.ErrInvalidAction)
	}
	if !t.Allows(actor.Role) {
		return nil, fmt.Errorf("%s may not %s: %w", actor.Role, action, apperr.ErrForbidden)
	}

	var done committed
	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		done, err = e.applyTx(ctx, tx, t, actor, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	PushStatusChanged(e.publisher, done.transition, done.book)
	PushNotifications(e.publisher, done.notifications)

	e.logger.Info("book transitioned",
		zap.String("book_id", bookID.String()),
		zap.String("action", string(action)),
		zap.String("user_id", actor.ID.String()),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Int("recipients", len(done.notifications)),
	)
	return &Result{BookID: bookID, From: t.From, To: t.To}, nil
}

func (e *Engine) applyTx(ctx context.Context, tx *gorm.DB, t Transition, actor model.Actor, bookID uuid.UUID) (committed, error) {
	books := postgres.NewBookRepository(tx)

	book, err := books.GetByID(ctx, bookID)
	if err != nil {
		return committed{}, err
	}
	if t.OwnerOnly && book.AuthorID != actor.ID {
		return committed{}, fmt.Errorf("%s on a book of another author: %w", t.Action, apperr.ErrForbidden)
	}

	filter := postgres.BookFilter{ID: &bookID, Status: &t.From}
	if t.OwnerOnly {
		filter.AuthorID = &actor.ID
	}
	now := e.now()
	updates := t.Updates(actor)
	updates["updated_at"] = now
	n, err := books.UpdateWhere(ctx, filter, updates)
	if err != nil {
		return committed{}, fmt.Errorf("update book status: %w", err)
	}
	if n == 0 {
		return committed{}, fmt.Errorf("book is no longer %s: %w", t.From, apperr.ErrConflict)
	}

	eventID := e.newEventID()
	payload, err := model.EventPayload{
		Action:     string(t.Action),
		EventID:    eventID,
		BookID:     bookID.String(),
		ActorID:    actor.ID.String(),
		From:       t.From,
		To:         t.To,
		OccurredAt: now,
	}.Encode()
	if err != nil {
		return committed{}, fmt.Errorf("encode event payload: %w", err)
	}

	outbox := postgres.NewOutboxRepository(tx).WithNotifyChannel(e.notifyChannel)
	if err := outbox.Append(ctx, &model.BookEvent{Type: t.EventType, Payload: payload, OccurredAt: now}); err != nil {
		return committed{}, fmt.Errorf("append outbox event: %w", err)
	}

	recipients, err := Recipients(ctx, postgres.NewUserRepository(tx), t.Notify, book)
	if err != nil {
		return committed{}, fmt.Errorf("resolve recipients: %w", err)
	}
	notifications := BuildNotifications(t.EventType, eventID, book, recipients, now)
	created, err := postgres.NewNotificationRepository(tx).CreateIdempotent(ctx, notifications)
	if err != nil {
		return committed{}, fmt.Errorf("create notifications: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues("transition").Add(float64(created))

	book.Status = t.To
	return committed{transition: t, book: book, notifications: notifications}, nil
}
