package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// BacklogCounter reports the number of outbox events still waiting for the relay.
type BacklogCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// OutboxCollector exports the outbox backlog at scrape time so the gauge is
// never stale, whichever process runs the relay.
type OutboxCollector struct {
	counter BacklogCounter
	logger  *zap.Logger
	timeout time.Duration

	pending *prometheus.Desc
	up      *prometheus.Desc
}

func NewOutboxCollector(counter BacklogCounter, logger *zap.Logger) *OutboxCollector {
	return &OutboxCollector{
		counter: counter,
		logger:  logger,
		timeout: 2 * time.Second,
		pending: prometheus.NewDesc(
			"bookflow_outbox_pending_events",
			"Number of outbox events not yet processed.",
			nil, nil,
		),
		up: prometheus.NewDesc(
			"bookflow_outbox_backlog_up",
			"Whether the last backlog query succeeded.",
			nil, nil,
		),
	}
}

func (c *OutboxCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.up
}

func (c *OutboxCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	n, err := c.counter.CountPending(ctx)
	if err != nil {
		c.logger.Warn("failed to count pending outbox events", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(n))
}
