// Package metrics exposes Prometheus instrumentation for the live session
// traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process registry and the instruments the transport and
// API layers update.
type Metrics struct {
	registry *prometheus.Registry

	// ConnectionsActive tracks live stream connections by role.
	ConnectionsActive *prometheus.GaugeVec

	// MessagesReceived counts inbound stream frames.
	MessagesReceived prometheus.Counter

	// MessagesSent counts outbound stream frames.
	MessagesSent prometheus.Counter

	// SessionsCreated counts sessions created over the API.
	SessionsCreated prometheus.Counter

	// ParticipantsJoined counts successful participant joins.
	ParticipantsJoined prometheus.Counter
}

// New builds a registry with process and runtime collectors plus the
// application instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quizforge_stream_connections_active",
			Help: "Live stream connections by role.",
		}, []string{"role"}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizforge_stream_messages_received_total",
			Help: "Inbound stream frames.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizforge_stream_messages_sent_total",
			Help: "Outbound stream frames.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizforge_sessions_created_total",
			Help: "Sessions created over the API.",
		}),
		ParticipantsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizforge_participants_joined_total",
			Help: "Successful participant joins.",
		}),
	}
	reg.MustRegister(
		m.ConnectionsActive,
		m.MessagesReceived,
		m.MessagesSent,
		m.SessionsCreated,
		m.ParticipantsJoined,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
