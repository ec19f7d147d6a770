// Package metrics registers the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportItemsTotal counts processed import items by job type and outcome (success, error).
	ImportItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_import_items_total",
			Help: "Total number of import items processed",
		},
		[]string{"job_type", "outcome"},
	)

	// ImportBatchesTotal counts batches by final status, including skipped and released.
	ImportBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_import_batches_total",
			Help: "Total number of import batches handled, by status",
		},
		[]string{"status"},
	)

	// ImportBatchDuration observes wall time of processing one batch.
	ImportBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dishrank_import_batch_duration_seconds",
			Help:    "Time spent processing one import batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	// AnalyticsEventsTotal counts analytics events by outcome (RECORDED, DUPLICATE, FAILED).
	AnalyticsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_analytics_events_total",
			Help: "Total number of analytics events handled, by outcome",
		},
		[]string{"status"},
	)

	// EventsPublishedTotal counts bus publishes by detail type and outcome.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_events_published_total",
			Help: "Total number of events published to the event bus",
		},
		[]string{"type", "outcome"},
	)

	// RankingCacheTotal counts ranking cache lookups (hit, miss, error).
	RankingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_ranking_cache_total",
			Help: "Ranking view cache lookups, by result",
		},
		[]string{"result"},
	)

	// QueueMessagesTotal counts consumed queue messages by queue and outcome (success, failure).
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_queue_messages_total",
			Help: "Queue messages handled, by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishrank_http_requests_total",
			Help: "HTTP requests served, by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
