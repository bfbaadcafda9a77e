// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of dispatch outcomes by notification type and status",
		},
		[]string{"type", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_store_operation_duration_seconds",
			Help:    "Duration of notification store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_store_errors_total",
			Help: "Total number of failed notification store operations",
		},
		[]string{"operation"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_published_total",
			Help: "Total number of events handed to the event bus",
		},
		[]string{"kind"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_event_publish_failures_total",
			Help: "Total number of events the bus refused after the write was committed",
		},
		[]string{"kind"},
	)

	SubscribersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_subscribers_dropped_total",
			Help: "Total number of subscriptions closed with a channel error",
		},
		[]string{"reason"},
	)

	ActiveSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_active_subscribers",
			Help: "Number of open live subscriptions per bus backend",
		},
		[]string{"backend"},
	)

	PreferenceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_preference_cache_lookups_total",
			Help: "Preference cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)
)
