package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairsync_sessions_started_total",
		Help: "Sessions created, including ones superseding a live session of the same kind.",
	})

	updatesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairsync_session_updates_total",
		Help: "Successful version-checked session updates.",
	})

	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairsync_version_conflicts_total",
		Help: "Updates rejected because the session version had moved on.",
	})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairsync_change_events_published_total",
		Help: "Change events published to the feed, by change kind.",
	}, []string{"change"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairsync_change_event_publish_failures_total",
		Help: "Committed mutations whose change event could not be published; subscribers recover via resync.",
	})

	notifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairsync_notify_failures_total",
		Help: "Best-effort notification dispatches that failed.",
	})
)
