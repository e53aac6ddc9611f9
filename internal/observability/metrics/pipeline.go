package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

type PipelineMetrics struct {
	service    string
	registerer prometheus.Registerer

	queryTotal    *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queryQuality  *prometheus.HistogramVec
	compression   *prometheus.HistogramVec

	dependencyBreaker *prometheus.CounterVec
	tierBreaker       *prometheus.CounterVec
}

func NewPipelineMetrics(registerer prometheus.Registerer, service string) *PipelineMetrics {
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Completed queries by variant, status and cache hit.",
		},
		[]string{"service", "variant", "status", "cache_hit"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query latency by variant.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"service", "variant"},
	)
	queryQuality := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "quality_score",
			Help:      "Faithfulness proxy of generated answers.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.74, 0.8, 0.9, 1},
		},
		[]string{"service", "variant"},
	)
	compression := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "compression_ratio",
			Help:      "Compressed to original context token ratio.",
			Buckets:   []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service", "variant"},
	)

	dependencyBreaker := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker transitions of embedding, index and event calls.",
		},
		[]string{"service", "operation", "state"},
	)

	tierBreaker := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker transitions per generation tier.",
		},
		[]string{"service", "tier", "state"},
	)

	registerer.MustRegister(queryTotal, queryDuration, queryQuality, compression, dependencyBreaker, tierBreaker)

	return &PipelineMetrics{
		service:       service,
		registerer:    registerer,
		queryTotal:    queryTotal,
		queryDuration: queryDuration,
		queryQuality:  queryQuality,
		compression:   compression,

		dependencyBreaker: dependencyBreaker,
		tierBreaker:       tierBreaker,
	}
}

// Observe records one request outcome. It runs on the recorder goroutine.
func (m *PipelineMetrics) Observe(outcome domain.RequestOutcome) {
	variant := outcome.Variant
	if variant == "" {
		variant = "none"
	}
	status := "success"
	if !outcome.Success {
		status = "error"
	}
	m.queryTotal.WithLabelValues(m.service, variant, status, strconv.FormatBool(outcome.CacheHit)).Inc()
	m.queryDuration.WithLabelValues(m.service, variant).Observe(outcome.Latency.Seconds())
	if outcome.Quality != nil {
		m.queryQuality.WithLabelValues(m.service, variant).Observe(*outcome.Quality)
	}
	if outcome.CompressionRatio != nil {
		m.compression.WithLabelValues(m.service, variant).Observe(*outcome.CompressionRatio)
	}
}

// ObserveDependencyBreaker has the resilience.StateObserver signature.
func (m *PipelineMetrics) ObserveDependencyBreaker(operation string, to domain.BreakerStatus) {
	m.dependencyBreaker.WithLabelValues(m.service, operation, string(to)).Inc()
}

// ObserveTierBreaker has the tiered.StateObserver signature.
func (m *PipelineMetrics) ObserveTierBreaker(tier domain.TierID, to domain.BreakerStatus) {
	m.tierBreaker.WithLabelValues(m.service, string(tier), string(to)).Inc()
}

func (m *PipelineMetrics) RegisterCache(inspector ports.CacheInspector) {
	labels := prometheus.Labels{"service": m.service}
	gauge := func(name, help string, value func(domain.CacheStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: name, Help: help, ConstLabels: labels,
		}, func() float64 { return value(inspector.Stats()) })
	}
	counter := func(name, help string, value func(domain.CacheStats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: name, Help: help, ConstLabels: labels,
		}, func() float64 { return value(inspector.Stats()) })
	}

	m.registerer.MustRegister(
		gauge("entries", "Live semantic cache entries.", func(s domain.CacheStats) float64 { return float64(s.Entries) }),
		gauge("in_flight", "Queries currently computing under an in-flight marker.", func(s domain.CacheStats) float64 { return float64(s.InFlight) }),
		counter("hits_total", "Semantic cache hits.", func(s domain.CacheStats) float64 { return float64(s.Hits) }),
		counter("misses_total", "Semantic cache misses.", func(s domain.CacheStats) float64 { return float64(s.Misses) }),
		counter("evictions_total", "Entries evicted for capacity.", func(s domain.CacheStats) float64 { return float64(s.Evictions) }),
		counter("expired_total", "Entries removed after TTL.", func(s domain.CacheStats) float64 { return float64(s.Expired) }),
		counter("shared_results_total", "Responses served from another request's in-flight computation.", func(s domain.CacheStats) float64 { return float64(s.SharedResults) }),
	)
}

// RegisterTiers exports one breaker state gauge per tier: 0 closed,
// 1 half-open, 2 open.
func (m *PipelineMetrics) RegisterTiers(inspector ports.TierInspector) {
	for _, state := range inspector.TierStates() {
		tier := state.ID
		m.registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "generation",
			Name:        "tier_breaker_state",
			Help:        "Circuit breaker state per generation tier.",
			ConstLabels: prometheus.Labels{"service": m.service, "tier": string(tier)},
		}, func() float64 {
			for _, s := range inspector.TierStates() {
				if s.ID == tier {
					return breakerValue(s.Status)
				}
			}
			return 0
		}))
		m.registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "generation",
			Name:        "tier_quota_remaining",
			Help:        "Estimated remaining quota fraction per generation tier.",
			ConstLabels: prometheus.Labels{"service": m.service, "tier": string(tier)},
		}, func() float64 {
			for _, s := range inspector.TierStates() {
				if s.ID == tier {
					return s.QuotaRemaining
				}
			}
			return 0
		}))
	}
}

func breakerValue(status domain.BreakerStatus) float64 {
	switch status {
	case domain.BreakerHalfOpen:
		return 1
	case domain.BreakerOpen:
		return 2
	default:
		return 0
	}
}

type RolloutSource interface {
	OptimizedPercent() int
	Rollbacks() int64
}

func (m *PipelineMetrics) RegisterRollout(source RolloutSource) {
	labels := prometheus.Labels{"service": m.service}
	m.registerer.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rollout", Name: "optimized_traffic_percent",
			Help: "Share of traffic routed to the optimized variant.", ConstLabels: labels,
		}, func() float64 { return float64(source.OptimizedPercent()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rollout", Name: "rollbacks_total",
			Help: "Automatic rollbacks of the optimized variant.", ConstLabels: labels,
		}, func() float64 { return float64(source.Rollbacks()) }),
	)
}
