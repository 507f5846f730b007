package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type fakeBacklog struct {
	n   int64
	err error
}

func (f fakeBacklog) CountPending(context.Context) (int64, error) {
	return f.n, f.err
}

func TestOutboxCollectorReportsBacklog(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewOutboxCollector(fakeBacklog{n: 3}, zap.NewNop()))

	expected := `
# HELP bookflow_outbox_backlog_up Whether the last backlog query succeeded.
# TYPE bookflow_outbox_backlog_up gauge
bookflow_outbox_backlog_up 1
# HELP bookflow_outbox_pending_events Number of outbox events not yet processed.
# TYPE bookflow_outbox_pending_events gauge
bookflow_outbox_pending_events 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestOutboxCollectorQueryFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewOutboxCollector(fakeBacklog{err: errors.New("db down")}, zap.NewNop()))

	expected := `
# HELP bookflow_outbox_backlog_up Whether the last backlog query succeeded.
# TYPE bookflow_outbox_backlog_up gauge
bookflow_outbox_backlog_up 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "bookflow_outbox_backlog_up", "bookflow_outbox_pending_events"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}
