// Package metrics exposes workflow and notification counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements the engine and notification dispatcher metric hooks
type Metrics struct {
	// Transition attempts by entity kind and outcome
	Transitions *prometheus.CounterVec

	// Notification deliveries by channel and outcome
	Notifications *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Transition requests by entity kind and outcome",
		}, []string{"kind", "outcome"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "workflow",
			Name:      "notifications_total",
			Help:      "Notifications by delivery channel and outcome",
		}, []string{"channel", "outcome"}), // channel: "in_app", "outbound"
	}
}

// ObserveTransition records one transition request outcome
func (m *Metrics) ObserveTransition(kind, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveNotification records one notification delivery outcome
func (m *Metrics) ObserveNotification(channel, outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(channel, outcome).Inc()
	}
}

// BusStats reports the event bus's cumulative counters
type BusStats func() (delivered, failed, dropped uint64)

// RegisterEventBus exposes bus counters read at scrape time
func RegisterEventBus(reg prometheus.Registerer, stats BusStats) {
	factory := promauto.With(reg)
	counter := func(name, help string, pick func(d, f, x uint64) uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "event_bus",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(stats()))
		})
	}
	counter("delivered_total", "Subscriber invocations that succeeded", func(d, _, _ uint64) uint64 { return d })
	counter("failed_total", "Subscriber invocations that returned an error or panicked", func(_, f, _ uint64) uint64 { return f })
	counter("dropped_total", "Events dropped because the queue was full or the bus closed", func(_, _, x uint64) uint64 { return x })
}
