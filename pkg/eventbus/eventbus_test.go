package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookflow/bookflow/pkg/model"
)

func newTestBus(t *testing.T) *Bus {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBus(client, "")
}

func TestPublishBookEventReachesSubscriber(t *testing.T) {
	bus := newTestBus(t)
	assert.Equal(t, ChannelBook, bus.channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := bus.Subscribe(ctx)

	occurred := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	payload := model.EventPayload{
		EventID:    "evt-1",
		BookID:     "book-1",
		ActorID:    "user-1",
		From:       model.BookReady,
		To:         model.BookPublished,
		OccurredAt: occurred,
	}

	// the subscription is registered asynchronously; publish until it lands
	var got *Event
	require.Eventually(t, func() bool {
		if err := bus.PublishBookEvent(ctx, model.EventBookPublished, payload); err != nil {
			return false
		}
		select {
		case got = <-events:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, model.EventBookPublished, got.Type)
	var body BookEvent
	require.NoError(t, json.Unmarshal(got.Data, &body))
	assert.Equal(t, "evt-1", body.EventID)
	assert.Equal(t, "book-1", body.BookID)
	assert.Equal(t, model.BookPublished, body.To)
	assert.True(t, occurred.Equal(body.OccurredAt))
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	events := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}
