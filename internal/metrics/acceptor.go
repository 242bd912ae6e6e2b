package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Acceptor counts accept loop outcomes.
type Acceptor struct {
	accepted   prometheus.Counter
	wouldBlock prometheus.Counter
	errors     prometheus.Counter
}

func NewAcceptor(r prometheus.Registerer, namespace string) *Acceptor {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)

	return &Acceptor{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name:      "listener_accepted_total",
			Namespace: namespace,
			Help:      "Number of accepted connections",
		}),
		wouldBlock: f.NewCounter(prometheus.CounterOpts{
			Name:      "listener_would_block_total",
			Namespace: namespace,
			Help:      "Number of accept attempts that found no pending connection",
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Name:      "listener_errors_total",
			Namespace: namespace,
			Help:      "Number of listener errors when accepting connections",
		}),
	}
}

func (m *Acceptor) Accept() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

func (m *Acceptor) WouldBlock() {
	if m == nil {
		return
	}
	m.wouldBlock.Inc()
}

func (m *Acceptor) Error() {
	if m == nil {
		return
	}
	m.errors.Inc()
}
