package livepush

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type StreamOptions struct {
	Heartbeat   time.Duration
	MaxLifetime time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = 24 * time.Hour
	}
	return o
}

// Stream holds one server-sent-event connection open for client. It returns
// when the peer disconnects, the client is closed, or MaxLifetime elapses;
// the client is unregistered in every case.
func Stream(c *gin.Context, hub *Hub, client *Client, opts StreamOptions) {
	opts = opts.withDefaults()

	hub.Register(client)
	defer func() {
		hub.Unregister(client)
		client.Close()
	}()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(EventConnected, gin.H{"userId": client.UserID, "role": client.Role})
	c.Writer.Flush()

	heartbeat := time.NewTicker(opts.Heartbeat)
	defer heartbeat.Stop()
	ceiling := time.NewTimer(opts.MaxLifetime)
	defer ceiling.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-client.Done():
			return
		case <-ceiling.C:
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev := <-client.Events():
			c.SSEvent(ev.Name, ev.Data)
			c.Writer.Flush()
		}
	}
}
