// Package metrics defines the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors. Fan-out failures are never surfaced to the
// originating caller, so these counters are the only place they land.
type Metrics struct {
	ConnectionsOpen prometheus.Gauge
	BucketsLive     prometheus.Gauge

	FanoutDeliveries *prometheus.CounterVec

	EventsCreated    prometheus.Counter
	EventsMarkedSeen prometheus.Counter

	AuthRejections *prometheus.CounterVec
}

// Fan-out delivery outcome labels.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// New constructs and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fitlink",
			Subsystem: "ws",
			Name:      "connections_open",
			Help:      "Live websocket connections.",
		}),
		BucketsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fitlink",
			Subsystem: "presence",
			Name:      "buckets_live",
			Help:      "Users with at least one live connection.",
		}),
		FanoutDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitlink",
			Subsystem: "fanout",
			Name:      "deliveries_total",
			Help:      "Fan-out delivery attempts by outcome.",
		}, []string{"outcome"}),
		EventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fitlink",
			Subsystem: "outbox",
			Name:      "events_created_total",
			Help:      "Durable events inserted.",
		}),
		EventsMarkedSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fitlink",
			Subsystem: "outbox",
			Name:      "events_marked_seen_total",
			Help:      "Durable events stamped seen.",
		}),
		AuthRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitlink",
			Subsystem: "ws",
			Name:      "auth_rejections_total",
			Help:      "Connection rejections by auth error code.",
		}, []string{"code"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsOpen,
			m.BucketsLive,
			m.FanoutDeliveries,
			m.EventsCreated,
			m.EventsMarkedSeen,
			m.AuthRejections,
		)
	}
	return m
}

// NewNop returns unregistered collectors for tests.
func NewNop() *Metrics {
	return New(nil)
}
