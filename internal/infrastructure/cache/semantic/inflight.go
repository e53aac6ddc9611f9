package semantic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

type flight struct {
	owner     *Cache
	key       string
	embedding []float32
	startedAt time.Time

	once sync.Once
	done chan struct{}
	resp *domain.QueryResponse
	err  error
}

// Acquire marks key as in flight. The caller that gets leader=true must call
// Complete exactly once; other callers receive the leader's flight to wait on.
// Check and mark happen under the cache mutex.
func (c *Cache) Acquire(key string, embedding []float32) (ports.Flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if existing, ok := c.inflight[key]; ok {
		if !existing.stale(now) {
			c.shared.Add(1)
			return existing, false
		}
		slog.Warn("inflight_marker_stale", "key", key, "age_ms", now.Sub(existing.startedAt).Milliseconds())
		delete(c.inflight, key)
	}

	if len(embedding) > 0 {
		for k, f := range c.inflight {
			if f.stale(now) {
				slog.Warn("inflight_marker_stale", "key", k, "age_ms", now.Sub(f.startedAt).Milliseconds())
				delete(c.inflight, k)
				continue
			}
			if len(f.embedding) > 0 && domain.CosineSimilarity(embedding, f.embedding) >= c.cfg.Threshold {
				c.shared.Add(1)
				return f, false
			}
		}
	}

	f := &flight{
		owner:     c,
		key:       key,
		embedding: append([]float32(nil), embedding...),
		startedAt: now,
		done:      make(chan struct{}),
	}
	c.inflight[key] = f
	return f, true
}

func (f *flight) stale(now time.Time) bool {
	return now.Sub(f.startedAt) >= f.owner.cfg.StaleAfter
}

// Wait blocks until the leader completes, the wait bound or watchdog expires,
// or ctx ends. Only a successful leader result is shared.
func (f *flight) Wait(ctx context.Context) (*domain.QueryResponse, bool) {
	bound := f.owner.cfg.InFlightWait
	if remaining := f.owner.cfg.StaleAfter - f.owner.now().Sub(f.startedAt); remaining < bound {
		bound = remaining
	}
	if bound <= 0 {
		return nil, false
	}
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-f.done:
		if f.err != nil || f.resp == nil {
			return nil, false
		}
		resp := *f.resp
		resp.Sources = append([]string(nil), f.resp.Sources...)
		return &resp, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Complete publishes the leader result and clears the marker.
func (f *flight) Complete(resp *domain.QueryResponse, err error) {
	f.once.Do(func() {
		f.resp = resp
		f.err = err
		close(f.done)

		c := f.owner
		c.mu.Lock()
		if c.inflight[f.key] == f {
			delete(c.inflight, f.key)
		}
		c.mu.Unlock()
	})
}
