package domain

import "time"

const (
	VariantBaseline  = "baseline"
	VariantOptimized = "optimized"
)

// VariantConfig is the pipeline shape a variant runs with.
type VariantConfig struct {
	Name           string `json:"name"`
	TopK           int    `json:"top_k"`
	UseRerank      bool   `json:"use_rerank"`
	UseCompression bool   `json:"use_compression"`
}

type MetricWindow struct {
	Samples    int           `json:"samples"`
	ErrorRate  float64       `json:"error_rate"`
	P95Latency time.Duration `json:"p95_latency"`
	Quality    float64       `json:"quality"`
	QualityN   int           `json:"quality_samples"`
	CacheHits  int           `json:"cache_hits"`
}

type RolloutState struct {
	Variant        string       `json:"variant"`
	TrafficPercent int          `json:"traffic_percent"`
	Window         MetricWindow `json:"window"`
	RolledBack     bool         `json:"rolled_back"`
	RollbackReason string       `json:"rollback_reason,omitempty"`
}

// RequestOutcome is what the metrics recorder receives per completed request.
type RequestOutcome struct {
	Variant   string
	Latency   time.Duration
	Success   bool
	Quality   *float64
	CacheHit  bool
	Timestamp time.Time
	// CompressionRatio is compressed/original tokens, nil when compression did not run.
	CompressionRatio *float64
}

type RolloutEvent struct {
	Variant     string       `json:"variant"`
	Reason      string       `json:"reason"`
	Manual      bool         `json:"manual"`
	FromPercent int          `json:"from_percent"`
	ToPercent   int          `json:"to_percent"`
	Window      MetricWindow `json:"window"`
	At          time.Time    `json:"at"`
}
