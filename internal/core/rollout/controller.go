// Package rollout splits traffic between pipeline variants and rolls the
// optimized variant back when its rolling metrics breach the configured
// thresholds.
package rollout

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

type Thresholds struct {
	MaxErrorRate float64
	MaxP95       time.Duration
	MinQuality   float64
	// MinSamples is how many outcomes a window needs before any rule fires.
	MinSamples int
}

type Config struct {
	OptimizedPercent int
	WindowSize       int
	Thresholds       Thresholds
	Baseline         domain.VariantConfig
	Optimized        domain.VariantConfig
	PublishTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		OptimizedPercent: 10,
		WindowSize:       200,
		Thresholds: Thresholds{
			MaxErrorRate: 0.10,
			MaxP95:       15 * time.Second,
			MinQuality:   0.74,
			MinSamples:   20,
		},
		Baseline:       domain.VariantConfig{Name: domain.VariantBaseline, TopK: 5, UseRerank: true},
		Optimized:      domain.VariantConfig{Name: domain.VariantOptimized, TopK: 5, UseRerank: true, UseCompression: true},
		PublishTimeout: 5 * time.Second,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c
	if out.OptimizedPercent < 0 {
		out.OptimizedPercent = 0
	}
	if out.OptimizedPercent > 100 {
		out.OptimizedPercent = 100
	}
	if out.WindowSize <= 0 {
		out.WindowSize = def.WindowSize
	}
	if out.Thresholds.MaxErrorRate <= 0 {
		out.Thresholds.MaxErrorRate = def.Thresholds.MaxErrorRate
	}
	if out.Thresholds.MaxP95 <= 0 {
		out.Thresholds.MaxP95 = def.Thresholds.MaxP95
	}
	if out.Thresholds.MinQuality < 0 {
		out.Thresholds.MinQuality = def.Thresholds.MinQuality
	}
	if out.Thresholds.MinSamples <= 0 {
		out.Thresholds.MinSamples = def.Thresholds.MinSamples
	}
	if out.Thresholds.MinSamples > out.WindowSize {
		out.Thresholds.MinSamples = out.WindowSize
	}
	if out.Baseline.Name == "" {
		out.Baseline = def.Baseline
	}
	if out.Optimized.Name == "" {
		out.Optimized = def.Optimized
	}
	if out.PublishTimeout <= 0 {
		out.PublishTimeout = def.PublishTimeout
	}
	return out
}

type Option func(*Controller)

func WithEventPublisher(publisher ports.RolloutEventPublisher) Option {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller owns the optimized traffic percentage. Assign reads it with a
// single atomic load; every write goes through mu so a rollback and a manual
// change cannot interleave.
type Controller struct {
	cfg       Config
	publisher ports.RolloutEventPublisher
	now       func() time.Time

	percent   atomic.Int32
	rollbacks atomic.Int64

	mu         sync.Mutex
	windows    map[string]*window
	rolledBack bool
	reason     string
}

func NewController(cfg Config, opts ...Option) *Controller {
	cfg = cfg.normalize()
	c := &Controller{
		cfg: cfg,
		now: time.Now,
		windows: map[string]*window{
			cfg.Baseline.Name:  newWindow(cfg.WindowSize),
			cfg.Optimized.Name: newWindow(cfg.WindowSize),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.percent.Store(int32(cfg.OptimizedPercent))
	return c
}

// Assign maps a request ID onto a stable bucket in [0,100).
func (c *Controller) Assign(requestID string) domain.VariantConfig {
	percent := int(c.percent.Load())
	if percent <= 0 {
		return c.cfg.Baseline
	}
	if bucket(requestID) < percent {
		return c.cfg.Optimized
	}
	return c.cfg.Baseline
}

func bucket(requestID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return int(h.Sum32() % 100)
}

func (c *Controller) OptimizedPercent() int {
	return int(c.percent.Load())
}

func (c *Controller) Rollbacks() int64 {
	return c.rollbacks.Load()
}

// Observe folds one outcome into its variant window and evaluates the
// rollback rules for the optimized variant.
func (c *Controller) Observe(outcome domain.RequestOutcome) {
	s := sample{
		latency:  outcome.Latency,
		success:  outcome.Success,
		cacheHit: outcome.CacheHit,
	}
	if outcome.Quality != nil {
		s.quality = *outcome.Quality
		s.hasScore = true
	}

	c.mu.Lock()
	w, ok := c.windows[outcome.Variant]
	if !ok {
		c.mu.Unlock()
		slog.Debug("rollout_unknown_variant", "variant", outcome.Variant)
		return
	}
	w.add(s)

	if outcome.Variant != c.cfg.Optimized.Name || c.rolledBack || c.percent.Load() == 0 {
		c.mu.Unlock()
		return
	}
	stats := w.stats()
	reason := c.breach(stats)
	if reason == "" {
		c.mu.Unlock()
		return
	}
	event := c.rollbackLocked(reason, stats, false)
	c.mu.Unlock()

	c.rollbacks.Add(1)
	slog.Error("rollout_rollback",
		"variant", event.Variant,
		"reason", reason,
		"from_percent", event.FromPercent,
		"samples", stats.Samples,
		"error_rate", stats.ErrorRate,
		"p95_ms", stats.P95Latency.Milliseconds(),
		"quality", stats.Quality,
	)
	c.publish(event)
}

func (c *Controller) breach(stats domain.MetricWindow) string {
	t := c.cfg.Thresholds
	if stats.Samples < t.MinSamples {
		return ""
	}
	switch {
	case stats.ErrorRate > t.MaxErrorRate:
		return fmt.Sprintf("error rate %.3f above %.3f", stats.ErrorRate, t.MaxErrorRate)
	case stats.P95Latency > t.MaxP95:
		return fmt.Sprintf("p95 latency %s above %s", stats.P95Latency, t.MaxP95)
	case stats.QualityN >= t.MinSamples && stats.Quality < t.MinQuality:
		return fmt.Sprintf("quality %.3f below %.3f", stats.Quality, t.MinQuality)
	}
	return ""
}

func (c *Controller) rollbackLocked(reason string, stats domain.MetricWindow, manual bool) domain.RolloutEvent {
	from := int(c.percent.Swap(0))
	c.rolledBack = true
	c.reason = reason
	return domain.RolloutEvent{
		Variant:     c.cfg.Optimized.Name,
		Reason:      reason,
		Manual:      manual,
		FromPercent: from,
		ToPercent:   0,
		Window:      stats,
		At:          c.now().UTC(),
	}
}

// Disable force-sets the optimized variant's traffic to 0.
func (c *Controller) Disable(ctx context.Context, variant, reason string) error {
	const op = "rollout.disable"
	switch variant {
	case c.cfg.Optimized.Name:
	case c.cfg.Baseline.Name:
		return domain.NewError(domain.ErrInvalidInput, op, "baseline variant cannot be disabled")
	default:
		return domain.NewError(domain.ErrNotFound, op, "unknown variant "+variant)
	}
	if reason == "" {
		reason = "manual disable"
	}

	c.mu.Lock()
	event := c.rollbackLocked(reason, c.windows[variant].stats(), true)
	c.mu.Unlock()

	slog.Warn("rollout_disabled", "variant", variant, "reason", reason, "from_percent", event.FromPercent)
	c.publishCtx(ctx, event)
	return nil
}

// SetTraffic changes the optimized percentage, clears the rollback flag and
// starts a fresh window for the optimized variant.
func (c *Controller) SetTraffic(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return domain.NewError(domain.ErrInvalidInput, "rollout.set_traffic", "percent must be within 0..100")
	}

	c.mu.Lock()
	from := int(c.percent.Swap(int32(percent)))
	c.rolledBack = false
	c.reason = ""
	c.windows[c.cfg.Optimized.Name].reset()
	c.mu.Unlock()

	slog.Info("rollout_traffic_changed", "variant", c.cfg.Optimized.Name, "from_percent", from, "to_percent", percent)
	c.publishCtx(ctx, domain.RolloutEvent{
		Variant:     c.cfg.Optimized.Name,
		Reason:      "traffic changed",
		Manual:      true,
		FromPercent: from,
		ToPercent:   percent,
		At:          c.now().UTC(),
	})
	return nil
}

func (c *Controller) Snapshot() []domain.RolloutState {
	c.mu.Lock()
	defer c.mu.Unlock()

	percent := int(c.percent.Load())
	return []domain.RolloutState{
		{
			Variant:        c.cfg.Baseline.Name,
			TrafficPercent: 100 - percent,
			Window:         c.windows[c.cfg.Baseline.Name].stats(),
		},
		{
			Variant:        c.cfg.Optimized.Name,
			TrafficPercent: percent,
			Window:         c.windows[c.cfg.Optimized.Name].stats(),
			RolledBack:     c.rolledBack,
			RollbackReason: c.reason,
		},
	}
}

func (c *Controller) publish(event domain.RolloutEvent) {
	c.publishCtx(context.Background(), event)
}

func (c *Controller) publishCtx(ctx context.Context, event domain.RolloutEvent) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PublishTimeout)
	defer cancel()
	if err := c.publisher.PublishRolloutEvent(ctx, event); err != nil {
		slog.Warn("rollout_event_publish_failed", "variant", event.Variant, "error", err)
	}
}
