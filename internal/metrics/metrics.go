package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raymond"

// Metrics groups every instrument the service exports. Components take a
// *Metrics and tolerate nil so tests can skip registration entirely.
type Metrics struct {
	IngestedTotal     *prometheus.CounterVec
	IngestFailures    *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec
	CacheOps          *prometheus.CounterVec
	Subscribers       prometheus.Gauge
	BroadcastsTotal   prometheus.Counter
	JobDuration       *prometheus.HistogramVec
	JobFailures       *prometheus.CounterVec
	FlowGraphFailures prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_total",
				Help:      "Total number of tracking calls recorded, by kind.",
			},
			[]string{"kind"},
		),
		IngestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_failures_total",
				Help:      "Tracking calls rejected or failed, by kind and reason.",
			},
			[]string{"kind", "reason"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Histogram of tracking call latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind"},
		),
		CacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Fast counter cache operations, by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Number of connected live dashboard subscribers.",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Number of snapshot broadcasts sent to the hub.",
		}),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Histogram of aggregation job run time in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"job"},
		),
		JobFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_failures_total",
				Help:      "Aggregation job runs that returned an error.",
			},
			[]string{"job"},
		),
		FlowGraphFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_graph_failures_total",
			Help:      "Flow graph builds that fell back to an empty graph.",
		}),
	}
	reg.MustRegister(
		m.IngestedTotal, m.IngestFailures, m.IngestDuration, m.CacheOps,
		m.Subscribers, m.BroadcastsTotal, m.JobDuration, m.JobFailures,
		m.FlowGraphFailures,
	)
	return m
}
