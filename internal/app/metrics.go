package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Forwarded   *prometheus.CounterVec
	RouteMiss   prometheus.Counter
	Dropped     prometheus.Counter
	Roster      prometheus.Gauge
	Connections prometheus.Gauge
}

// NewMetrics registers the relay collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicemesh",
			Subsystem: "relay",
			Name:      "forwarded_total",
			Help:      "Signaling frames accepted for forwarding, by kind.",
		}, []string{"kind"}),
		RouteMiss: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicemesh",
			Subsystem: "relay",
			Name:      "route_miss_total",
			Help:      "Targeted frames dropped because the target left.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicemesh",
			Subsystem: "relay",
			Name:      "send_dropped_total",
			Help:      "Frames dropped because a send buffer was full or closed.",
		}),
		Roster: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicemesh",
			Subsystem: "relay",
			Name:      "roster_size",
			Help:      "Joined participants.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicemesh",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open signaling connections, joined or not.",
		}),
	}
}
