package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "themis_relay"

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections     *prometheus.GaugeVec
	rooms           *prometheus.GaugeVec
	inbound         *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	saves           *prometheus.CounterVec
}

// New creates collectors on a private registry together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open WebSocket connections per relay.",
		}, []string{"relay"}),
		rooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Live rooms or document sessions per relay.",
		}, []string{"relay"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Decoded inbound frames by relay and type.",
		}, []string{"relay", "type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_messages_total",
			Help:      "Inbound frames dropped before dispatch.",
		}, []string{"relay", "reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Outbound frames dropped because a client queue was full.",
		}, []string{"relay"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Failed Persistence Bridge calls by operation.",
		}, []string{"op"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_saves_total",
			Help:      "Successful document saves by trigger.",
		}, []string{"trigger"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.rooms,
		m.inbound,
		m.rejected,
		m.dropped,
		m.persistFailures,
		m.saves,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened(relay string) {
	if m != nil {
		m.connections.WithLabelValues(relay).Inc()
	}
}

func (m *Metrics) ConnectionClosed(relay string) {
	if m != nil {
		m.connections.WithLabelValues(relay).Dec()
	}
}

func (m *Metrics) RoomOpened(relay string) {
	if m != nil {
		m.rooms.WithLabelValues(relay).Inc()
	}
}

func (m *Metrics) RoomClosed(relay string) {
	if m != nil {
		m.rooms.WithLabelValues(relay).Dec()
	}
}

func (m *Metrics) Inbound(relay, typ string) {
	if m != nil {
		m.inbound.WithLabelValues(relay, typ).Inc()
	}
}

// Rejected counts frames dropped for reason ("malformed", "rate_limited", ...).
func (m *Metrics) Rejected(relay, reason string) {
	if m != nil {
		m.rejected.WithLabelValues(relay, reason).Inc()
	}
}

func (m *Metrics) Dropped(relay string, n int) {
	if m != nil && n > 0 {
		m.dropped.WithLabelValues(relay).Add(float64(n))
	}
}

func (m *Metrics) PersistFailed(op string) {
	if m != nil {
		m.persistFailures.WithLabelValues(op).Inc()
	}
}

// Saved counts a successful document save; trigger is "explicit", "auto", "final" or "shutdown".
func (m *Metrics) Saved(trigger string) {
	if m != nil {
		m.saves.WithLabelValues(trigger).Inc()
	}
}
