package server

import (
	"net/http"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks server activity. Each Server owns its registry so several
// servers can run in one process (tests). A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived  *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	sessionsCreated   *prometheus.CounterVec
	sessionsClosed    prometheus.Counter
	notificationsSent *prometheus.CounterVec
}

// NewMetrics registers the server collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "server",
			Name:      "messages_received_total",
			Help:      "Client frames received by opcode",
		}, []string{"opcode"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "server",
			Name:      "messages_sent_total",
			Help:      "Server frames sent by opcode",
		}, []string{"opcode"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bgs",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Currently open client connections",
		}),
		sessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "server",
			Name:      "sessions_created_total",
			Help:      "Accepted connections by transport",
		}, []string{"transport"}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "server",
			Name:      "sessions_closed_total",
			Help:      "Closed connections",
		}),
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "server",
			Name:      "notifications_total",
			Help:      "Notifications by kind and whether they were delivered live or queued",
		}, []string{"kind", "delivery"}),
	}
}

func (m *Metrics) RecordMessageReceived(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) RecordMessageSent(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) RecordActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordSessionCreated(transport string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
}

// RecordNotification counts a notification; queued is true when the
// recipient was offline.
func (m *Metrics) RecordNotification(kind protocol.NotificationKind, queued bool) {
	if m == nil {
		return
	}
	k := "public"
	if kind == protocol.KindPM {
		k = "pm"
	}
	delivery := "live"
	if queued {
		delivery = "queued"
	}
	m.notificationsSent.WithLabelValues(k, delivery).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
