// Package metrics defines the Prometheus collectors exported by hivecache.
// Collectors are registered once at package load via promauto and shared by
// all components; the /metrics endpoint is wired up in cmd/hivecached.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivecache_cache_entries",
			Help: "Current number of entries per named cache",
		},
		[]string{"cache"},
	)

	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivecache_cache_ops_total",
			Help: "Total cache operations by kind",
		},
		[]string{"cache", "op"}, // op: hit, miss, insert, remove, evict, expire
	)

	// Heartbeat metrics

	HeartbeatSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivecache_heartbeat_send_failures_total",
			Help: "Total failed heartbeat sends per peer",
		},
		[]string{"peer"},
	)

	PeerStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivecache_peer_status",
			Help: "Peer health status (0=healthy, 1=degraded, 2=unreachable)",
		},
		[]string{"peer"},
	)

	// Propagation metrics

	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivecache_notifications_sent_total",
			Help: "Total change notifications broadcast to peers",
		},
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivecache_notifications_dropped_total",
			Help: "Total change notifications dropped by reason",
		},
		[]string{"reason"}, // reason: backpressure, peer_unreachable, send_error
	)

	NotificationsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivecache_notifications_received_total",
			Help: "Total change notifications received from peers",
		},
	)

	NotificationsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivecache_notifications_rejected_total",
			Help: "Total received notifications rejected by conflict resolution",
		},
	)

	// Watchdog metrics

	ClusterReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivecache_cluster_ready",
			Help: "Whether the cluster health verdict permits serving traffic (1=ready)",
		},
	)

	VerdictTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivecache_verdict_transitions_total",
			Help: "Total cluster health verdict transitions by target verdict",
		},
		[]string{"verdict"},
	)
)
