// Package livepush keeps the process-local registry of connected clients and
// fans ephemeral events out to them. Events are invalidation hints: nothing is
// persisted or replayed, and a slow client loses events instead of blocking
// the publisher.
package livepush

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/metrics"
	"github.com/bookflow/bookflow/pkg/model"
)

const (
	EventConnected           = "connected"
	EventBookStatusChanged   = "books.statusChanged"
	EventNotificationCreated = "notification.created"
)

// Publisher is the seam between producers of live events and the transport.
// A shared pub/sub backend can replace Hub behind it.
type Publisher interface {
	PublishToUser(userID uuid.UUID, event string, data interface{})
	PublishToRole(role model.Role, event string, data interface{})
}

// NopPublisher drops every event. Used by processes without live clients.
type NopPublisher struct{}

func (NopPublisher) PublishToUser(uuid.UUID, string, interface{})  {}
func (NopPublisher) PublishToRole(model.Role, string, interface{}) {}

type clientSet map[*Client]struct{}

type Hub struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]clientSet
	byRole map[model.Role]clientSet
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		byUser: make(map[uuid.UUID]clientSet),
		byRole: make(map[model.Role]clientSet),
	}
}

// Register adds c to both indexes under one lock, so no publisher ever sees it
// in one index but not the other.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		c.Close()
		return
	}
	add(h.byUser, c.UserID, c)
	add(h.byRole, c.Role, c)
	metrics.LiveClients.Set(float64(h.countLocked()))
}

// Unregister removes c from both indexes. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remove(h.byUser, c.UserID, c)
	remove(h.byRole, c.Role, c)
	metrics.LiveClients.Set(float64(h.countLocked()))
}

func (h *Hub) PublishToUser(userID uuid.UUID, event string, data interface{}) {
	h.mu.Lock()
	targets := snapshot(h.byUser[userID])
	h.mu.Unlock()

	deliver(targets, Event{Name: event, Data: data})
}

func (h *Hub) PublishToRole(role model.Role, event string, data interface{}) {
	h.mu.Lock()
	targets := snapshot(h.byRole[role])
	h.mu.Unlock()

	deliver(targets, Event{Name: event, Data: data})
}

// Close disconnects every client and turns away new ones, so open streams
// end before the HTTP server's shutdown deadline.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for _, set := range h.byUser {
		all = append(all, snapshot(set)...)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countLocked()
}

// CountForUser returns the number of open connections of one user.
func (h *Hub) CountForUser(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byUser[userID])
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.byUser {
		n += len(set)
	}
	return n
}

func add[K comparable](index map[K]clientSet, key K, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(clientSet)
		index[key] = set
	}
	set[c] = struct{}{}
}

func remove[K comparable](index map[K]clientSet, key K, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

func snapshot(set clientSet) []*Client {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Sends happen outside the hub lock; a full or closed client is skipped.
func deliver(targets []*Client, ev Event) {
	for _, c := range targets {
		if !c.Send(ev) {
			metrics.LiveEventsDropped.WithLabelValues(ev.Name).Inc()
		}
	}
}

var _ Publisher = (*Hub)(nil)
var _ Publisher = NopPublisher{}
