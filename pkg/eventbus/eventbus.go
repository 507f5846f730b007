// Package eventbus mirrors processed book events onto redis pub/sub for
// consumers outside this service. Delivery is fire-and-forget.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookflow/bookflow/pkg/model"
)

const ChannelBook = "bookflow:events:book"

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type BookEvent struct {
	EventID    string           `json:"event_id"`
	BookID     string           `json:"book_id"`
	ActorID    string           `json:"actor_id,omitempty"`
	From       model.BookStatus `json:"from,omitempty"`
	To         model.BookStatus `json:"to,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type Bus struct {
	client  redis.UniversalClient
	channel string
}

// NewBus publishes on channel, or ChannelBook when channel is empty.
func NewBus(client redis.UniversalClient, channel string) *Bus {
	if channel == "" {
		channel = ChannelBook
	}
	return &Bus{client: client, channel: channel}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// PublishBookEvent lets the outbox relay use the bus as its mirror.
func (b *Bus) PublishBookEvent(ctx context.Context, eventType string, p model.EventPayload) error {
	event, err := NewEvent(eventType, BookEvent{
		EventID:    p.EventID,
		BookID:     p.BookID,
		ActorID:    p.ActorID,
		From:       p.From,
		To:         p.To,
		OccurredAt: p.OccurredAt,
	})
	if err != nil {
		return err
	}
	return b.Publish(ctx, event)
}

// Subscribe streams events until ctx is cancelled. Undecodable messages are
// dropped.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	sub := b.client.Subscribe(ctx, b.channel)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
