// Package metrics exposes the node's connectivity counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogic_node"

// Metrics holds the node's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	LinkUp             prometheus.Gauge
	LinkAttempts       prometheus.Counter
	SessionEstablished prometheus.Gauge
	ConnectFailures    prometheus.Counter
	Heartbeats         prometheus.Counter
	Commands           *prometheus.CounterVec
	Resets             *prometheus.CounterVec
	InboxDropped       prometheus.Counter
	SignalStrength     prometheus.Gauge
	TickSeconds        prometheus.Histogram
}

// New registers the node collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LinkUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 when the wireless link is up",
		}),
		LinkAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_transitions_total",
			Help:      "Link state transitions into connecting",
		}),
		SessionEstablished: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_established",
			Help:      "1 when the broker session is established",
		}),
		ConnectFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_connect_failures_total",
			Help:      "Failed broker connect attempts",
		}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Status documents published",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound messages by interpreted kind",
		}, []string{"kind"}),
		Resets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_requests_total",
			Help:      "Device reset requests by outcome",
		}, []string{"outcome"}),
		InboxDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_dropped_total",
			Help:      "Inbound messages dropped because the inbox was full",
		}),
		SignalStrength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_strength_dbm",
			Help:      "Wireless signal level at the last heartbeat",
		}),
		TickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Run loop tick duration",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
	}
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
