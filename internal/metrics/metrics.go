package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inboxsync",
		Name:      "connection_state",
		Help:      "Current push channel state (0 disconnected, 1 connecting, 2 connected, 3 retrying, 4 closed, 5 failed)",
	})

	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inboxsync",
		Name:      "connect_attempts_total",
		Help:      "Push channel dial attempts by result",
	}, []string{"result"})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inboxsync",
		Name:      "inbound_events_total",
		Help:      "Decoded push events by name",
	}, []string{"event"})

	OutboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inboxsync",
		Name:      "outbound_events_total",
		Help:      "Emitted push events by name",
	}, []string{"event"})

	Reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inboxsync",
		Name:      "reconciliations_total",
		Help:      "Outcome of applying pushed messages to the store",
	}, []string{"outcome"})

	QueryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inboxsync",
		Name:      "query_fetches_total",
		Help:      "Query fetches by query kind and result (hit, ok, error)",
	}, []string{"query", "result"})

	PendingMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inboxsync",
		Name:      "pending_messages",
		Help:      "Locally sent messages still waiting for the server echo",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ConnectionState,
		ConnectAttempts,
		InboundEvents,
		OutboundEvents,
		Reconciliations,
		QueryFetches,
		PendingMessages,
	}
}

// Register adds all collectors to reg. Collectors already registered there
// are skipped, so calling it twice is harmless.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
