// Package metrics holds the Prometheus collectors for the tracking pipeline.
// HTTP request metrics live in the middleware package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions is the number of open tracking sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fastcare_tracking_sessions_active",
			Help: "Open booking tracking sessions",
		},
	)

	// FeedEventsTotal counts change events applied by tracking sessions.
	FeedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastcare_feed_events_total",
			Help: "Change events received by tracking sessions",
		},
		[]string{"table"},
	)

	// StaleEventsTotal counts events dropped because they were older than
	// the session's current record.
	StaleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastcare_feed_stale_events_total",
			Help: "Out-of-order change events ignored by tracking sessions",
		},
		[]string{"table"},
	)

	// FeedReconnectsTotal counts lost feed connections.
	FeedReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastcare_feed_reconnects_total",
			Help: "Feed connections lost and re-established",
		},
		[]string{"component"},
	)

	// NotificationsTotal counts status-change notifications by new status.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastcare_notifications_total",
			Help: "Status-change notifications emitted",
		},
		[]string{"status"},
	)

	// StatusTransitionsTotal counts committed booking status changes.
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastcare_booking_transitions_total",
			Help: "Committed booking status transitions",
		},
		[]string{"to"},
	)

	// CacheLookupsTotal counts snapshot cache lookups by result.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastcare_cache_lookups_total",
			Help: "Booking snapshot cache lookups",
		},
		[]string{"result"},
	)
)
