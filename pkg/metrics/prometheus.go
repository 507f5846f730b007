package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookflow_transitions_total",
			Help: "Total number of book transition attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookflow_transition_duration_seconds",
			Help:    "Duration of the transition transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	OutboxEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookflow_outbox_events_processed_total",
			Help: "Total number of outbox events handled by the relay by type and result",
		},
		[]string{"type", "result"},
	)

	OutboxBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookflow_outbox_batch_duration_seconds",
			Help:    "Duration of one relay batch in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookflow_notifications_created_total",
			Help: "Total number of notification rows inserted by writer",
		},
		[]string{"source"},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookflow_live_clients",
			Help: "Number of connected live push clients",
		},
	)

	LiveEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookflow_live_events_dropped_total",
			Help: "Total number of live push events dropped because a client buffer was full",
		},
		[]string{"event"},
	)

	ReviewsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookflow_reviews_rate_limited_total",
			Help: "Total number of review submissions rejected by the rate limiter",
		},
	)
)
