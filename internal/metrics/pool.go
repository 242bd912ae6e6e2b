package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool tracks worker pool occupancy.
type Pool struct {
	queued    prometheus.Gauge
	running   prometheus.Gauge
	completed prometheus.Counter
	panics    prometheus.Counter
	rejected  prometheus.Counter
}

func NewPool(r prometheus.Registerer, namespace string) *Pool {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)

	return &Pool{
		queued: f.NewGauge(prometheus.GaugeOpts{
			Name:      "pool_jobs_queued",
			Namespace: namespace,
			Help:      "Number of jobs waiting for a worker",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name:      "pool_jobs_running",
			Namespace: namespace,
			Help:      "Number of jobs being executed",
		}),
		completed: f.NewCounter(prometheus.CounterOpts{
			Name:      "pool_jobs_completed_total",
			Namespace: namespace,
			Help:      "Number of jobs executed to completion",
		}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name:      "pool_job_panics_total",
			Namespace: namespace,
			Help:      "Number of jobs that panicked",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name:      "pool_jobs_rejected_total",
			Namespace: namespace,
			Help:      "Number of submissions refused because the pool was shut down or the submitter gave up",
		}),
	}
}

func (m *Pool) Enqueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

// Withdrawn undoes Enqueued for a submission that gave up waiting.
func (m *Pool) Withdrawn() {
	if m == nil {
		return
	}
	m.queued.Dec()
	m.rejected.Inc()
}

func (m *Pool) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Pool) JobStarted() {
	if m == nil {
		return
	}
	m.queued.Dec()
	m.running.Inc()
}

func (m *Pool) JobDone(panicked bool) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.completed.Inc()
	if panicked {
		m.panics.Inc()
	}
}
