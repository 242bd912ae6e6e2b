package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counts connection pipeline runs and their outcomes.
type Pipeline struct {
	started  prometheus.Counter
	active   prometheus.Gauge
	finished *prometheus.CounterVec
	relayed  prometheus.Counter
	duration prometheus.Histogram
}

func NewPipeline(r prometheus.Registerer, namespace string) *Pipeline {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)

	return &Pipeline{
		started: f.NewCounter(prometheus.CounterOpts{
			Name:      "pipeline_started_total",
			Namespace: namespace,
			Help:      "Number of connection pipelines started",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name:      "pipeline_active",
			Namespace: namespace,
			Help:      "Number of connection pipelines running",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "pipeline_finished_total",
			Namespace: namespace,
			Help:      "Number of connection pipelines finished, by outcome",
		}, []string{"outcome"}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Name:      "pipeline_relayed_bytes_total",
			Namespace: namespace,
			Help:      "Number of response bytes relayed from upstream to clients",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:      "pipeline_duration_seconds",
			Namespace: namespace,
			Help:      "Time from accept to cleanup of a connection pipeline",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Pipeline) Start() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

// Finish records the end of a run. outcome is "done" for a completed relay or
// the failure kind otherwise.
func (m *Pipeline) Finish(outcome string, relayed int64, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.finished.WithLabelValues(outcome).Inc()
	m.relayed.Add(float64(relayed))
	m.duration.Observe(d.Seconds())
}
