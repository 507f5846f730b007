package postgres

import (
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// OutboxListener turns postgres NOTIFY messages on the outbox channel into
// relay wake-ups. Polling still runs; this only shortens the delay.
type OutboxListener struct {
	listener *pq.Listener
	wake     chan struct{}
	done     chan struct{}
}

func NewOutboxListener(dsn, channel string, logger *zap.Logger) (*OutboxListener, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("outbox listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	l := &OutboxListener{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

func (l *OutboxListener) loop() {
	for {
		select {
		case <-l.done:
			return
		case _, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; rows may have been missed,
			// so it wakes the relay too.
			select {
			case l.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Wakeups is signalled at most once per burst of notifications.
func (l *OutboxListener) Wakeups() <-chan struct{} {
	return l.wake
}

func (l *OutboxListener) Close() error {
	close(l.done)
	return l.listener.Close()
}
