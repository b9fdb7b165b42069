// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceivedTotal counts webhook notifications by event type.
	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streampulse",
		Name:      "events_received_total",
		Help:      "EventSub notifications received, by event type.",
	}, []string{"event_type"})

	// DuplicateEventsTotal counts webhook re-deliveries dropped by the replay guard.
	DuplicateEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streampulse",
		Name:      "duplicate_events_total",
		Help:      "EventSub notifications dropped as duplicate deliveries.",
	})

	// SnapshotsCapturedTotal counts viewer snapshots written by the poll sweep.
	SnapshotsCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streampulse",
		Name:      "snapshots_captured_total",
		Help:      "Viewer snapshots recorded.",
	})

	// RecalculationsTotal counts on-demand stats recalculations.
	RecalculationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streampulse",
		Name:      "stats_recalculations_total",
		Help:      "Forced streamer stats recalculations.",
	})

	// StatsRefreshFailuresTotal counts failed stats refresh jobs.
	StatsRefreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streampulse",
		Name:      "stats_refresh_failures_total",
		Help:      "Stats refresh jobs that failed.",
	})

	// LiveBroadcasters tracks how many monitored broadcasters are currently live.
	LiveBroadcasters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streampulse",
		Name:      "live_broadcasters",
		Help:      "Monitored broadcasters currently live.",
	})
)
