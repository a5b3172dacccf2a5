// Package metrics holds the prometheus collectors for the job stream client
// and the reference backend. Collectors are registered on a caller-supplied
// registry so tests can use a fresh one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "compliance"

// Stream counts connection lifecycle events on the client side. Frequent
// unexpected closes show up here rather than in the UI.
type Stream struct {
	Opens            prometheus.Counter
	UnexpectedCloses prometheus.Counter
	Reconnects       prometheus.Counter
	Messages         prometheus.Counter
}

// NewStream creates and registers the stream collectors. A nil registerer
// leaves them unregistered.
func NewStream(reg prometheus.Registerer) *Stream {
	s := &Stream{
		Opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "opens_total",
			Help:      "Websocket connections successfully opened.",
		}),
		UnexpectedCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "unexpected_closes_total",
			Help:      "Connections that closed or failed without an intentional close.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts started after an unexpected close.",
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Inbound stream messages delivered to the handler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.Opens, s.UnexpectedCloses, s.Reconnects, s.Messages)
	}
	return s
}

// Backend counts activity on the reference evaluation backend.
type Backend struct {
	JobsAccepted   prometheus.Counter
	JobsRejected   *prometheus.CounterVec
	EventsSent     *prometheus.CounterVec
	StreamsActive  prometheus.Gauge
	BacklogDropped prometheus.Counter
}

// NewBackend creates and registers the backend collectors. A nil registerer
// leaves them unregistered.
func NewBackend(reg prometheus.Registerer) *Backend {
	b := &Backend{
		JobsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "jobs_accepted_total",
			Help:      "Evaluation jobs accepted.",
		}),
		JobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "jobs_rejected_total",
			Help:      "Evaluation requests rejected, by reason.",
		}, []string{"reason"}),
		EventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "events_sent_total",
			Help:      "Stream events queued for delivery, by message type.",
		}, []string{"message_type"}),
		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "streams_active",
			Help:      "Websocket clients currently attached.",
		}),
		BacklogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "backlog_dropped_total",
			Help:      "Events dropped because a session backlog was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(b.JobsAccepted, b.JobsRejected, b.EventsSent, b.StreamsActive, b.BacklogDropped)
	}
	return b
}
