package livepush

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/model"
)

type Event struct {
	Name string
	Data interface{}
}

// Client is one live connection. Send never blocks; Close is idempotent and
// makes every later Send a no-op.
type Client struct {
	UserID uuid.UUID
	Role   model.Role

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewClient(userID uuid.UUID, role model.Role, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		UserID: userID,
		Role:   role,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues ev and reports whether it was accepted.
func (c *Client) Send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
