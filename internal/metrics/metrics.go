// Package metrics holds the Prometheus collectors of the proxy.
//
// Every collector type is safe to use through a nil pointer, in which case
// it records nothing. Components take a possibly-nil pointer so they can be
// built without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "fwdproxy"

// Metrics groups the collectors of one proxy instance on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Pipeline *Pipeline
	Pool     *Pool
	Acceptor *Acceptor
	Dialer   *Dialer
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a new registry.
func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry: r,
		Pipeline: NewPipeline(r, namespace),
		Pool:     NewPool(r, namespace),
		Acceptor: NewAcceptor(r, namespace),
		Dialer:   NewDialer(r, namespace),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
