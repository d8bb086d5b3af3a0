// Package stats exports the daemon's and router's operational counters
// through Prometheus.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every exported gauge/counter for one running daemon, each
// registered against its own private Registry rather than the global
// DefaultRegisterer so independent Daemons (daemon_test spins up a fresh
// one per spec) never collide trying to register the same metric name
// twice.
type Metrics struct {
	registry *prometheus.Registry

	// QueueDepth tracks the daemon's event queue length at every Post/pop.
	QueueDepth prometheus.Gauge

	// EventsProcessed counts dispatched events by daemon.Type.String().
	EventsProcessed *prometheus.CounterVec

	// CustodyTimersActive/ExpireTimersActive track how many per-bundle
	// housekeeper timers the router currently has armed.
	CustodyTimersActive prometheus.Gauge
	ExpireTimersActive  prometheus.Gauge
}

// New creates a Metrics instance with a private registry and registers
// every collector against it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bpd",
			Subsystem: "daemon",
			Name:      "queue_depth",
			Help:      "Number of events currently queued for dispatch.",
		}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpd",
			Subsystem: "daemon",
			Name:      "events_processed_total",
			Help:      "Events dispatched by the daemon, labeled by type.",
		}, []string{"type"}),
		CustodyTimersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bpd",
			Subsystem: "router",
			Name:      "custody_timers_active",
			Help:      "Custody retransmit timers currently armed with the housekeeper.",
		}),
		ExpireTimersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bpd",
			Subsystem: "router",
			Name:      "expire_timers_active",
			Help:      "Per-bundle lifetime-expiration timers currently armed with the housekeeper.",
		}),
	}
	reg.MustRegister(m.QueueDepth, m.EventsProcessed, m.CustodyTimersActive, m.ExpireTimersActive)
	return m
}

// Handler serves m's registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
