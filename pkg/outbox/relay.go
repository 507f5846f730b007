// Package outbox drains the book event outbox into per-user notifications.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/metrics"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/store/postgres"
	"github.com/bookflow/bookflow/pkg/workflow"
)

type Repository interface {
	ListPending(ctx context.Context, limit int) ([]model.BookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) (int, error)
	DeadLetter(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

type BookReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Book, error)
}

type NotificationWriter interface {
	CreateIdempotent(ctx context.Context, notifications []model.Notification) (int64, error)
}

// Mirror forwards processed events to consumers outside this service.
type Mirror interface {
	PublishBookEvent(ctx context.Context, eventType string, payload model.EventPayload) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts bounds retries of a failing event; <= 0 retries forever.
	MaxAttempts int
}

type Relay struct {
	events        Repository
	books         BookReader
	users         workflow.RoleDirectory
	notifications NotificationWriter
	publisher     livepush.Publisher
	mirror        Mirror
	wake          <-chan struct{}
	logger        *zap.Logger
	tracer        trace.Tracer
	cfg           Config
	now           func() time.Time
}

type Deps struct {
	Events        Repository
	Books         BookReader
	Users         workflow.RoleDirectory
	Notifications NotificationWriter
	Publisher     livepush.Publisher
	// Mirror and Wake are optional.
	Mirror Mirror
	Wake   <-chan struct{}
}

func NewRelay(deps Deps, cfg Config, logger *zap.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if deps.Publisher == nil {
		deps.Publisher = livepush.NopPublisher{}
	}
	return &Relay{
		events:        deps.Events,
		books:         deps.Books,
		users:         deps.Users,
		notifications: deps.Notifications,
		publisher:     deps.Publisher,
		mirror:        deps.Mirror,
		wake:          deps.Wake,
		logger:        logger,
		tracer:        otel.Tracer("bookflow/outbox"),
		cfg:           cfg,
		now:           postgres.Now,
	}
}

// Run polls until ctx is cancelled. A wake-up from the listener triggers an
// extra batch without waiting for the next tick.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Int("max_attempts", r.cfg.MaxAttempts),
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.poll(ctx)
		case <-r.wake:
			r.poll(ctx)
		}
	}
}

func (r *Relay) poll(ctx context.Context) {
	if err := r.ProcessBatch(ctx, r.cfg.BatchSize); err != nil && ctx.Err() == nil {
		r.logger.Warn("failed to list pending outbox events", zap.Error(err))
	}
}

// ProcessBatch handles up to limit pending events, oldest first. A failing
// event stays pending and never stops the rest of the batch; only a failure
// to list the batch is returned.
func (r *Relay) ProcessBatch(ctx context.Context, limit int) error {
	start := time.Now()
	events, err := r.events.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	defer func() { metrics.OutboxBatchDuration.Observe(time.Since(start).Seconds()) }()

	for _, event := range events {
		if ctx.Err() != nil {
			return nil
		}
		r.handle(ctx, event)
	}
	return nil
}

type verdict int

const (
	delivered verdict = iota
	skipped
	deadLettered
)

// errPoison marks an event that can never succeed; retrying it is pointless.
var errPoison = errors.New("unprocessable event")

func (r *Relay) handle(ctx context.Context, event model.BookEvent) {
	ctx, span := r.tracer.Start(ctx, "outbox.process",
		trace.WithAttributes(
			attribute.String("outbox.id", event.ID.String()),
			attribute.String("outbox.type", event.Type),
		),
	)
	defer span.End()

	logger := r.logger.With(zap.String("outbox_id", event.ID.String()), zap.String("type", event.Type))

	v, err := r.process(ctx, event, logger)
	switch {
	case errors.Is(err, errPoison):
		r.deadLetter(ctx, event, err.Error(), logger)
		return
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, event, err, logger)
		return
	}

	if err := r.events.MarkProcessed(ctx, event.ID, r.now()); err != nil {
		logger.Warn("failed to mark outbox event processed", zap.Error(err))
		metrics.OutboxEventsProcessed.WithLabelValues(event.Type, "error").Inc()
		return
	}
	result := "delivered"
	if v == skipped {
		result = "skipped"
	}
	metrics.OutboxEventsProcessed.WithLabelValues(event.Type, result).Inc()
}

func (r *Relay) process(ctx context.Context, event model.BookEvent, logger *zap.Logger) (verdict, error) {
	payload, err := model.DecodeEventPayload(event.Payload)
	if err != nil {
		return deadLettered, fmt.Errorf("%w: %v", errPoison, err)
	}
	if payload.BookID == "" {
		logger.Warn("outbox event missing bookId")
		return skipped, nil
	}
	bookID, err := uuid.Parse(payload.BookID)
	if err != nil {
		return deadLettered, fmt.Errorf("%w: bad bookId %q", errPoison, payload.BookID)
	}
	audience, ok := workflow.AudienceFor(event.Type)
	if !ok {
		return deadLettered, fmt.Errorf("%w: unknown type %q", errPoison, event.Type)
	}

	book, err := r.books.GetByID(ctx, bookID)
	if errors.Is(err, apperr.ErrNotFound) {
		logger.Info("outbox event references a deleted book", zap.String("book_id", payload.BookID))
		return skipped, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load book: %w", err)
	}

	recipients, err := workflow.Recipients(ctx, r.users, audience, book)
	if err != nil {
		return 0, fmt.Errorf("resolve recipients: %w", err)
	}

	eventID := payload.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	notifications := workflow.BuildNotifications(event.Type, eventID, book, recipients, r.now())
	created, err := r.notifications.CreateIdempotent(ctx, notifications)
	if err != nil {
		return 0, fmt.Errorf("create notifications: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues("relay").Add(float64(created))

	workflow.PushNotifications(r.publisher, notifications)

	if r.mirror != nil {
		payload.EventID = eventID
		if err := r.mirror.PublishBookEvent(ctx, workflow.CanonicalEventType(event.Type), payload); err != nil {
			logger.Warn("failed to mirror book event", zap.Error(err))
		}
	}

	logger.Debug("outbox event delivered",
		zap.String("book_id", payload.BookID),
		zap.String("event_id", eventID),
		zap.Int("recipients", len(recipients)),
		zap.Int64("created", created),
	)
	return delivered, nil
}

func (r *Relay) fail(ctx context.Context, event model.BookEvent, cause error, logger *zap.Logger) {
	attempts, err := r.events.RecordFailure(ctx, event.ID, cause.Error())
	if err != nil {
		logger.Warn("failed to record outbox failure", zap.Error(err), zap.NamedError("cause", cause))
		metrics.OutboxEventsProcessed.WithLabelValues(event.Type, "error").Inc()
		return
	}
	if r.cfg.MaxAttempts > 0 && attempts >= r.cfg.MaxAttempts {
		r.deadLetter(ctx, event, fmt.Sprintf("gave up after %d attempts: %v", attempts, cause), logger)
		return
	}
	logger.Warn("outbox event failed, will retry", zap.Error(cause), zap.Int("attempts", attempts))
	metrics.OutboxEventsProcessed.WithLabelValues(event.Type, "retry").Inc()
}

func (r *Relay) deadLetter(ctx context.Context, event model.BookEvent, reason string, logger *zap.Logger) {
	if err := r.events.DeadLetter(ctx, event.ID, reason, r.now()); err != nil {
		logger.Warn("failed to dead-letter outbox event", zap.Error(err))
		metrics.OutboxEventsProcessed.WithLabelValues(event.Type, "error").Inc()
		return
	}
	logger.Warn("outbox event dead-lettered", zap.String("reason", reason))
	metrics.OutboxEventsProcessed.WithLabelValues(event.Type, "dead_letter").Inc()
}
