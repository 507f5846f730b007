package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/model"
	"github.com/bookflow/bookflow/pkg/outbox"
	"github.com/bookflow/bookflow/pkg/store/postgres"
	"github.com/bookflow/bookflow/pkg/store/storetest"
	"github.com/bookflow/bookflow/pkg/workflow"
)

type flakyWriter struct {
	outbox.NotificationWriter
	failures int
	calls    int
}

func (w *flakyWriter) CreateIdempotent(ctx context.Context, ns []model.Notification) (int64, error) {
	w.calls++
	if w.calls <= w.failures {
		return 0, errors.New("connection reset")
	}
	return w.NotificationWriter.CreateIdempotent(ctx, ns)
}

type mirrored struct {
	eventType string
	payload   model.EventPayload
}

type fakeMirror struct {
	mu     sync.Mutex
	events []mirrored
}

func (m *fakeMirror) PublishBookEvent(_ context.Context, eventType string, payload model.EventPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mirrored{eventType, payload})
	return nil
}

type env struct {
	store  *postgres.Store
	outbox *postgres.OutboxRepository
	notifs *postgres.NotificationRepository
	hub    *livepush.Hub
	mirror *fakeMirror
	author *model.User
	editor *model.User
}

func newEnv(t *testing.T) *env {
	s := storetest.New(t)
	return &env{
		store:  s,
		outbox: postgres.NewOutboxRepository(s.DB()),
		notifs: postgres.NewNotificationRepository(s.DB()),
		hub:    livepush.NewHub(),
		mirror: &fakeMirror{},
		author: storetest.CreateUser(t, s, model.RoleAuthor),
		editor: storetest.CreateUser(t, s, model.RoleEditor),
	}
}

func (e *env) relay(writer outbox.NotificationWriter, maxAttempts int) *outbox.Relay {
	if writer == nil {
		writer = e.notifs
	}
	return outbox.NewRelay(outbox.Deps{
		Events:        e.outbox,
		Books:         postgres.NewBookRepository(e.store.DB()),
		Users:         postgres.NewUserRepository(e.store.DB()),
		Notifications: writer,
		Publisher:     e.hub,
		Mirror:        e.mirror,
	}, outbox.Config{BatchSize: 10, MaxAttempts: maxAttempts}, zap.NewNop())
}

func (e *env) appendEvent(t *testing.T, eventType string, payload datatypes.JSON, at time.Time) *model.BookEvent {
	event := &model.BookEvent{Type: eventType, Payload: payload, OccurredAt: at}
	require.NoError(t, e.outbox.Append(context.Background(), event))
	return event
}

func (e *env) event(t *testing.T, id uuid.UUID) *model.BookEvent {
	ev, err := e.outbox.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func payloadFor(t *testing.T, book *model.Book, eventID string) datatypes.JSON {
	raw, err := model.EventPayload{EventID: eventID, BookID: book.ID.String(), From: model.BookDraft, To: model.BookEditing}.Encode()
	require.NoError(t, err)
	return raw
}

func TestProcessBatchSkipsMalformedAndDeliversValid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookEditing)
	now := postgres.Now()

	malformed := e.appendEvent(t, model.EventBookSubmitted, datatypes.JSON(`{"eventId":"evt-bad"}`), now.Add(-time.Second))
	valid := e.appendEvent(t, model.EventBookSubmitted, payloadFor(t, book, "evt-good"), now)

	client := livepush.NewClient(e.editor.ID, e.editor.Role, 8)
	e.hub.Register(client)
	defer e.hub.Unregister(client)

	require.NoError(t, e.relay(nil, 0).ProcessBatch(ctx, 10))

	assert.NotNil(t, e.event(t, malformed.ID).ProcessedAt)
	assert.Nil(t, e.event(t, malformed.ID).DeadLetteredAt)
	rows, err := e.notifs.ListByEvent(ctx, "evt-bad")
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.NotNil(t, e.event(t, valid.ID).ProcessedAt)
	rows, err = e.notifs.ListByEvent(ctx, "evt-good")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, e.editor.ID, rows[0].UserID)
	assert.Equal(t, "Submitted: "+book.Title, rows[0].Title)

	select {
	case ev := <-client.Events():
		assert.Equal(t, livepush.EventNotificationCreated, ev.Name)
		assert.Equal(t, "evt-good", ev.Data.(workflow.NotificationCreated).ID)
	default:
		t.Fatal("expected a live notification")
	}

	require.Len(t, e.mirror.events, 1)
	assert.Equal(t, model.EventBookSubmitted, e.mirror.events[0].eventType)
	assert.Equal(t, "evt-good", e.mirror.events[0].payload.EventID)
}

func TestNonObjectPayloadDoesNotBlockBatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookEditing)
	now := postgres.Now()

	var bad []*model.BookEvent
	for i, raw := range []string{`["legacy"]`, `"BookSubmitted"`, `7`} {
		bad = append(bad, e.appendEvent(t, model.EventBookSubmitted, datatypes.JSON(raw), now.Add(-time.Duration(3-i)*time.Second)))
	}
	valid := e.appendEvent(t, model.EventBookSubmitted, payloadFor(t, book, "evt-after-bad"), now)

	relay := e.relay(nil, 0)
	require.NoError(t, relay.ProcessBatch(ctx, 10))

	for _, ev := range bad {
		got := e.event(t, ev.ID)
		assert.NotNil(t, got.ProcessedAt)
		assert.NotNil(t, got.DeadLetteredAt)
		assert.Contains(t, got.LastError, "decode event payload")
	}
	assert.NotNil(t, e.event(t, valid.ID).ProcessedAt)
	rows, err := e.notifs.ListByEvent(ctx, "evt-after-bad")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, e.editor.ID, rows[0].UserID)

	n, err := e.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, relay.ProcessBatch(ctx, 10))
}

func TestRelayTimestampsMatchStorePrecision(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookEditing)
	event := e.appendEvent(t, model.EventBookSubmitted, payloadFor(t, book, "evt-precision"), postgres.Now())

	require.NoError(t, e.relay(nil, 0).ProcessBatch(ctx, 10))

	rows, err := e.notifs.ListByEvent(ctx, "evt-precision")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rows[0].CreatedAt.Truncate(time.Microsecond), rows[0].CreatedAt)
	processed := e.event(t, event.ID).ProcessedAt
	require.NotNil(t, processed)
	assert.Equal(t, processed.Truncate(time.Microsecond), *processed)
}

func TestRelayAfterSynchronousPathDoesNotDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookDraft)

	engine := workflow.NewEngine(e.store, e.hub, zap.NewNop())
	_, err := engine.Apply(ctx, storetest.Actor(e.author), book.ID, workflow.ActionSubmit)
	require.NoError(t, err)

	pending, err := e.outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	payload, err := model.DecodeEventPayload(pending[0].Payload)
	require.NoError(t, err)
	eventID := payload.EventID

	relay := e.relay(nil, 0)
	require.NoError(t, relay.ProcessBatch(ctx, 10))

	// a second pass over the same row, as after a crash before mark-processed
	require.NoError(t, e.store.DB().Exec("UPDATE book_event_outbox SET processed_at = NULL").Error)
	require.NoError(t, relay.ProcessBatch(ctx, 10))

	rows, err := e.notifs.ListByEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDeletedBookIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookDraft)
	event := e.appendEvent(t, model.EventBookChangesRequested, payloadFor(t, book, "evt-gone"), postgres.Now())
	require.NoError(t, e.store.DB().Delete(&model.Book{}, "id = ?", book.ID).Error)

	require.NoError(t, e.relay(nil, 0).ProcessBatch(ctx, 10))

	got := e.event(t, event.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.DeadLetteredAt)
	assert.Empty(t, e.mirror.events)
}

func TestUnknownTypeIsDeadLettered(t *testing.T) {
	e := newEnv(t)
	book := storetest.CreateBook(t, e.store, e.author, model.BookDraft)
	event := e.appendEvent(t, "BookArchived", payloadFor(t, book, "evt-x"), postgres.Now())

	require.NoError(t, e.relay(nil, 0).ProcessBatch(context.Background(), 10))

	got := e.event(t, event.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.NotNil(t, got.DeadLetteredAt)
	assert.Contains(t, got.LastError, "BookArchived")
}

func TestLegacyReadyTypeNotifiesPublishers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	publisher := storetest.CreateUser(t, e.store, model.RolePublisher)
	book := storetest.CreateBook(t, e.store, e.author, model.BookReady)
	e.appendEvent(t, model.EventBookReady, payloadFor(t, book, "evt-legacy"), postgres.Now())

	require.NoError(t, e.relay(nil, 0).ProcessBatch(ctx, 10))

	rows, err := e.notifs.ListByEvent(ctx, "evt-legacy")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, publisher.ID, rows[0].UserID)
	assert.Equal(t, model.EventBookMarkedReady, rows[0].Type)
}

func TestTransientFailureRetriesThenDelivers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookEditing)
	event := e.appendEvent(t, model.EventBookSubmitted, payloadFor(t, book, "evt-retry"), postgres.Now())

	writer := &flakyWriter{NotificationWriter: e.notifs, failures: 1}
	relay := e.relay(writer, 5)

	require.NoError(t, relay.ProcessBatch(ctx, 10))
	got := e.event(t, event.ID)
	assert.Nil(t, got.ProcessedAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "create notifications: connection reset", got.LastError)

	require.NoError(t, relay.ProcessBatch(ctx, 10))
	assert.NotNil(t, e.event(t, event.ID).ProcessedAt)
	rows, err := e.notifs.ListByEvent(ctx, "evt-retry")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFailureCeilingDeadLetters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book := storetest.CreateBook(t, e.store, e.author, model.BookEditing)
	failing := e.appendEvent(t, model.EventBookSubmitted, payloadFor(t, book, "evt-fail"), postgres.Now())

	relay := e.relay(&flakyWriter{NotificationWriter: e.notifs, failures: 100}, 2)
	require.NoError(t, relay.ProcessBatch(ctx, 10))
	assert.Nil(t, e.event(t, failing.ID).ProcessedAt)

	require.NoError(t, relay.ProcessBatch(ctx, 10))
	got := e.event(t, failing.ID)
	assert.NotNil(t, got.DeadLetteredAt)
	assert.Equal(t, 2, got.Attempts)

	n, err := e.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	book := storetest.CreateBook(t, e.store, e.author, model.BookEditing)
	event := e.appendEvent(t, model.EventBookSubmitted, payloadFor(t, book, "evt-run"), postgres.Now())

	relay := outbox.NewRelay(outbox.Deps{
		Events:        e.outbox,
		Books:         postgres.NewBookRepository(e.store.DB()),
		Users:         postgres.NewUserRepository(e.store.DB()),
		Notifications: e.notifs,
	}, outbox.Config{PollInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := e.outbox.GetByID(context.Background(), event.ID)
		return err == nil && got.ProcessedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
