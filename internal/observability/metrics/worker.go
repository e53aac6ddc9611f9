package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics covers the background loops: the cache sweeper and the
// outcome recorder.
type WorkerMetrics struct {
	service string

	sweepTotal    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepRemoved  prometheus.Counter
}

func NewWorkerMetrics(registerer prometheus.Registerer, service string) *WorkerMetrics {
	sweepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cache_sweep_total",
			Help:      "Total cache sweeps by status.",
		},
		[]string{"service", "status"},
	)
	sweepDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "cache_sweep_duration_seconds",
			Help:        "Cache sweep duration in seconds.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	sweepRemoved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "cache_sweep_removed_total",
			Help:        "Expired cache entries removed by sweeps.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registerer.MustRegister(sweepTotal, sweepDuration, sweepRemoved)

	return &WorkerMetrics{
		service:       service,
		sweepTotal:    sweepTotal,
		sweepDuration: sweepDuration,
		sweepRemoved:  sweepRemoved,
	}
}

func (m *WorkerMetrics) ObserveSweep(removed int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sweepTotal.WithLabelValues(m.service, status).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	if removed > 0 {
		m.sweepRemoved.Add(float64(removed))
	}
}

// RegisterRecorderDrops exports how many outcomes the recorder discarded.
func (m *WorkerMetrics) RegisterRecorderDrops(registerer prometheus.Registerer, dropped func() int64) {
	registerer.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "outcomes_dropped_total",
			Help:        "Request outcomes dropped because the recorder buffer was full.",
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		func() float64 { return float64(dropped()) },
	))
}
