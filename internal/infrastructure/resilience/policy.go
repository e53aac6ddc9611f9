package resilience

import "time"

// Config tunes retries and the ratio breaker. Queries have a single end-to-end
// deadline, so defaults keep the worst-case retry budget under a second.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled bool
	// BreakerMinRequests is the window size before the ratio rule applies.
	BreakerMinRequests uint32
	// BreakerConsecutiveFailures trips the breaker on a failure streak
	// regardless of ratio. Zero disables the rule.
	BreakerConsecutiveFailures uint32
	BreakerFailureRatio        float64
	BreakerOpenTimeout         time.Duration
	BreakerHalfOpenMaxCalls    uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        100 * time.Millisecond,
		RetryMaxBackoff:            400 * time.Millisecond,
		RetryMultiplier:            2,
		BreakerEnabled:             true,
		BreakerMinRequests:         10,
		BreakerConsecutiveFailures: 5,
		BreakerFailureRatio:        0.5,
		BreakerOpenTimeout:         30 * time.Second,
		BreakerHalfOpenMaxCalls:    2,
	}
}

// normalize fills unset fields from DefaultConfig. BreakerEnabled and
// BreakerConsecutiveFailures are taken as given.
func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = orDefault(out.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = orDefault(out.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = orDefault(out.RetryMaxBackoff, def.RetryMaxBackoff)
	out.RetryMaxBackoff = max(out.RetryMaxBackoff, out.RetryInitialBackoff)
	if out.RetryMultiplier < 1 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	out.BreakerMinRequests = orDefault(out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = orDefault(out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = orDefault(out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}

func orDefault[T int | uint32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
