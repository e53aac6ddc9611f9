package tiered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

var errEmptyCompletion = errors.New("backend returned an empty completion")

// reportedQuotaTTL is how long a backend-reported quota figure is trusted.
const reportedQuotaTTL = time.Minute

// Tier binds one generation backend to its slot in the fallback order.
type Tier struct {
	ID      domain.TierID
	Backend ports.TextGenerator
	Model   string
	// RequestsPerMinute is the external quota; zero means unlimited.
	RequestsPerMinute int
	Timeout           time.Duration
}

type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	AttemptTimeout   time.Duration
	// QuotaLowWatermark marks a tier degraded when its remaining quota
	// fraction falls below it.
	QuotaLowWatermark float64
}

func (c Config) normalize() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 20 * time.Second
	}
	if c.QuotaLowWatermark <= 0 || c.QuotaLowWatermark >= 1 {
		c.QuotaLowWatermark = 0.1
	}
	return c
}

// StateObserver is told about breaker transitions, e.g. to export a gauge.
type StateObserver func(tier domain.TierID, to domain.BreakerStatus)

type tierRuntime struct {
	tier    Tier
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[domain.GenerationResult]
	limiter *rate.Limiter
	burst   float64

	// reportedQuota holds the backend-reported fraction * 1e6, or -1.
	reportedQuota atomic.Int64
	reportedAt    atomic.Int64
	lastFailure   atomic.Int64
}

// Selector tries tiers in static priority order, skipping open breakers and
// pushing quota-degraded tiers to the back.
type Selector struct {
	cfg   Config
	tiers []*tierRuntime
	now   func() time.Time
}

func NewSelector(cfg Config, tiers []Tier, observer StateObserver) (*Selector, error) {
	cfg = cfg.normalize()
	if len(tiers) == 0 {
		return nil, domain.NewError(domain.ErrInvalidInput, "new tier selector", "at least one tier is required")
	}

	seen := make(map[domain.TierID]struct{}, len(tiers))
	runtimes := make([]*tierRuntime, 0, len(tiers))
	for _, tier := range tiers {
		if tier.ID.Priority() >= len(domain.TierOrder) {
			return nil, domain.NewError(domain.ErrInvalidInput, "new tier selector", fmt.Sprintf("unknown tier %q", tier.ID))
		}
		if _, dup := seen[tier.ID]; dup {
			return nil, domain.NewError(domain.ErrInvalidInput, "new tier selector", fmt.Sprintf("duplicate tier %q", tier.ID))
		}
		if tier.Backend == nil {
			return nil, domain.NewError(domain.ErrInvalidInput, "new tier selector", fmt.Sprintf("tier %q has no backend", tier.ID))
		}
		seen[tier.ID] = struct{}{}

		rt := &tierRuntime{tier: tier, timeout: tier.Timeout}
		if rt.timeout <= 0 {
			rt.timeout = cfg.AttemptTimeout
		}
		if tier.RequestsPerMinute > 0 {
			burst := tier.RequestsPerMinute
			rt.limiter = rate.NewLimiter(rate.Limit(float64(tier.RequestsPerMinute)/60.0), burst)
			rt.burst = float64(burst)
		}
		rt.reportedQuota.Store(-1)

		id := tier.ID
		rt.breaker = resilience.NewConsecutiveBreaker[domain.GenerationResult](resilience.BreakerSettings{
			Name:             "generation." + string(id),
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         cfg.Cooldown,
			OnStateChange: func(_ string, to domain.BreakerStatus) {
				if observer != nil {
					observer(id, to)
				}
			},
		})
		runtimes = append(runtimes, rt)
	}

	sort.SliceStable(runtimes, func(i, j int) bool {
		return runtimes[i].tier.ID.Priority() < runtimes[j].tier.ID.Priority()
	})
	return &Selector{cfg: cfg, tiers: runtimes, now: time.Now}, nil
}

// Generate returns the first successful completion. When every tier is open,
// out of quota or failing it returns ErrAllTiersExhausted.
func (s *Selector) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationOutput, error) {
	attempts := 0
	failures := make([]error, 0, len(s.tiers))

	for _, rt := range s.attemptOrder() {
		if err := ctx.Err(); err != nil {
			return domain.GenerationOutput{}, domain.WrapError(domain.ErrTemporary, "generate", err)
		}
		if rt.breaker.State() == gobreaker.StateOpen {
			slog.Debug("generation_tier_skipped", "tier", string(rt.tier.ID), "reason", "circuit_open")
			continue
		}
		if rt.limiter != nil && !rt.limiter.Allow() {
			slog.Warn("generation_tier_skipped", "tier", string(rt.tier.ID), "reason", "quota_exhausted")
			failures = append(failures, fmt.Errorf("%s: quota exhausted", rt.tier.ID))
			continue
		}

		attempts++
		req.Tier = rt.tier.ID
		req.Attempt = attempts
		result, err := s.call(ctx, rt, req.Prompt)
		if err == nil {
			rt.observeQuota(result.QuotaRemaining)
			return domain.GenerationOutput{Text: result.Text, Tier: rt.tier.ID, Attempts: attempts}, nil
		}
		if resilience.IsCircuitOpen(err) {
			attempts--
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.GenerationOutput{}, domain.WrapError(domain.ErrTemporary, "generate", ctxErr)
		}

		rt.lastFailure.Store(s.now().UnixNano())
		slog.Warn("generation_tier_failed", "tier", string(rt.tier.ID), "attempt", attempts, "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", rt.tier.ID, err))
	}

	if len(failures) == 0 {
		return domain.GenerationOutput{}, domain.NewError(domain.ErrAllTiersExhausted, "generate", "every tier circuit is open")
	}
	return domain.GenerationOutput{}, domain.WrapError(domain.ErrAllTiersExhausted, "generate", errors.Join(failures...))
}

func (s *Selector) call(ctx context.Context, rt *tierRuntime, prompt string) (domain.GenerationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	return rt.breaker.Execute(func() (domain.GenerationResult, error) {
		result, err := rt.tier.Backend.Generate(callCtx, prompt)
		if err != nil {
			// The request deadline is not the tier's fault; only the attempt timeout is.
			if parentErr := ctx.Err(); parentErr != nil {
				return domain.GenerationResult{}, fmt.Errorf("%w: %w", resilience.ErrCallerDone, parentErr)
			}
			return domain.GenerationResult{}, err
		}
		result.Text = strings.TrimSpace(result.Text)
		if result.Text == "" {
			return domain.GenerationResult{}, errEmptyCompletion
		}
		return result, nil
	})
}

// attemptOrder keeps static priority but moves degraded tiers behind healthy ones.
func (s *Selector) attemptOrder() []*tierRuntime {
	healthy := make([]*tierRuntime, 0, len(s.tiers))
	degraded := make([]*tierRuntime, 0)
	for _, rt := range s.tiers {
		if rt.quotaRemaining() < s.cfg.QuotaLowWatermark {
			degraded = append(degraded, rt)
			continue
		}
		healthy = append(healthy, rt)
	}
	return append(healthy, degraded...)
}

// TierStates is a point-in-time snapshot; it may be stale by one attempt.
func (s *Selector) TierStates() []domain.TierState {
	out := make([]domain.TierState, 0, len(s.tiers))
	for _, rt := range s.tiers {
		counts := rt.breaker.Counts()
		quota := rt.quotaRemaining()
		state := domain.TierState{
			ID:                  rt.tier.ID,
			Priority:            rt.tier.ID.Priority(),
			Status:              resilience.Status(rt.breaker.State()),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			QuotaRemaining:      quota,
			Degraded:            quota < s.cfg.QuotaLowWatermark,
			Model:               rt.tier.Model,
		}
		if ns := rt.lastFailure.Load(); ns > 0 {
			state.LastFailureAt = time.Unix(0, ns).UTC()
		}
		out = append(out, state)
	}
	return out
}

func (rt *tierRuntime) observeQuota(fraction float64) {
	if fraction < 0 {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	rt.reportedQuota.Store(int64(fraction * 1e6))
	rt.reportedAt.Store(time.Now().UnixNano())
}

// quotaRemaining is the lower of the local token bucket fill and the last
// backend-reported fraction.
func (rt *tierRuntime) quotaRemaining() float64 {
	remaining := 1.0
	if rt.limiter != nil && rt.burst > 0 {
		remaining = rt.limiter.Tokens() / rt.burst
		if remaining < 0 {
			remaining = 0
		}
	}
	fresh := time.Since(time.Unix(0, rt.reportedAt.Load())) < reportedQuotaTTL
	if reported := rt.reportedQuota.Load(); reported >= 0 && fresh {
		if r := float64(reported) / 1e6; r < remaining {
			remaining = r
		}
	}
	return remaining
}
