package metrics

import (
	"net"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dialer counts upstream dials per destination class. It satisfies
// dialer.Observer.
type Dialer struct {
	errors *prometheus.CounterVec
	dialed *prometheus.CounterVec
	active *prometheus.GaugeVec
}

func NewDialer(r prometheus.Registerer, namespace string) *Dialer {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)
	l := []string{"dest"}

	return &Dialer{
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "dialer_errors_total",
			Namespace: namespace,
			Help:      "Number of errors dialing connections",
		}, l),
		dialed: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "dialer_cx_total",
			Namespace: namespace,
			Help:      "Number of dialed connections",
		}, l),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "dialer_cx_active",
			Namespace: namespace,
			Help:      "Number of active connections",
		}, l),
	}
}

func (m *Dialer) DialFailed(addr string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(addr2Dest(addr)).Inc()
}

func (m *Dialer) Dialed(addr string) {
	if m == nil {
		return
	}
	dest := addr2Dest(addr)
	m.dialed.WithLabelValues(dest).Inc()
	m.active.WithLabelValues(dest).Inc()
}

func (m *Dialer) Closed(addr string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(addr2Dest(addr)).Dec()
}

// addr2Dest maps a dialed address onto a small fixed set of label values.
// Upstream addresses are mostly resolved IPs, so labelling by address would
// grow a series per destination.
func addr2Dest(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "unknown"
	}

	if slices.Contains([]string{"localhost", "127.0.0.1", "::1", "::"}, host) {
		return "localhost"
	}

	ip := net.ParseIP(host)
	switch {
	case ip == nil:
		return "name"
	case ip.IsLoopback() || ip.IsUnspecified():
		return "localhost"
	case ip.IsPrivate() || ip.IsLinkLocalUnicast():
		return "private"
	default:
		return "public"
	}
}
