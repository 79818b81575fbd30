// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package metrics registers the Prometheus instrumentation for the
// notification core: bus throughput, fan-out failures, counter-store
// operations, and live websocket connections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts successful bus publishes per topic.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calyx_events_published_total",
			Help: "Total number of events published to the bus",
		},
		[]string{"topic"},
	)

	// PublishErrors counts transport publish failures per topic.
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calyx_publish_errors_total",
			Help: "Total number of transport publish failures",
		},
		[]string{"topic"},
	)

	// FanOutFailures counts fan-out handler failures per topic. These
	// are swallowed by design; the metric is their only aggregate trace.
	FanOutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calyx_fanout_failures_total",
			Help: "Total number of fan-out handler failures (logged, never propagated)",
		},
		[]string{"topic"},
	)

	// NotificationsCreated counts persisted notifications per type.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calyx_notifications_created_total",
			Help: "Total number of notification rows created",
		},
		[]string{"notification_type", "priority"},
	)

	// CounterOps counts unread-counter store operations by kind and outcome.
	CounterOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calyx_counter_ops_total",
			Help: "Total number of unread-counter store operations",
		},
		[]string{"op", "outcome"},
	)

	// WebsocketConnections tracks currently live websocket connections.
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calyx_websocket_connections",
			Help: "Current number of live websocket connections",
		},
	)

	// WebsocketUsersOnline tracks users with at least one live connection.
	WebsocketUsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calyx_websocket_users_online",
			Help: "Current number of users with at least one live connection",
		},
	)

	// SubscriptionDenials counts events filtered out by per-event
	// authorization checks.
	SubscriptionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calyx_subscription_denials_total",
			Help: "Total number of events withheld from live subscribers by per-event authorization",
		},
		[]string{"topic"},
	)
)

// RecordCounterOp records a counter-store operation outcome.
func RecordCounterOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CounterOps.WithLabelValues(op, outcome).Inc()
}
