/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carechords"

// Playback controller metrics.
var (
	PlayerCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "commands_total",
		Help:      "Commands processed by the playback controller.",
	}, []string{"command"})

	PlayerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "engine_events_total",
		Help:      "Decoding engine events received by the playback controller.",
	}, []string{"event"})

	PlayerEngineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "engine_errors_total",
		Help:      "Failed engine calls, by operation.",
	}, []string{"operation"})

	PlayerPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "info_publishes_total",
		Help:      "Playback info snapshots published.",
	})

	PlayerQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "queue_length",
		Help:      "Tracks remaining in the play queue.",
	})

	SleepTimerArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sleep",
		Name:      "timer_armed",
		Help:      "1 while a sleep timer is pending or fading.",
	})
)

// Audio bridge and mixing graph metrics.
var (
	BridgeFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "frames_total",
		Help:      "Frames pushed into the mixing graph.",
	})

	BridgeEndOfStreamTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "end_of_stream_total",
		Help:      "Bridge sessions ended, by reason.",
	}, []string{"reason"})

	FailoverSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "failover",
		Name:      "switches_total",
		Help:      "Branch switches performed by the failover monitor.",
	}, []string{"to"})

	BufferOccupancyRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mixer",
		Name:      "buffer_occupancy_ratio",
		Help:      "Live branch buffer occupancy as a fraction of its capacity.",
	})
)

// HTTP metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests.",
	})

	APIStreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "stream_subscribers",
		Help:      "Connected status stream clients, by transport.",
	}, []string{"transport"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "query_duration_seconds",
		Help:      "Playlist store query latency, by operation and table.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "errors_total",
		Help:      "Failed database operations.",
	}, []string{"operation", "table"})

	DatabaseConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "connections_open",
		Help:      "Open connections in the database pool.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
