package semantic

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

// tieEpsilon treats similarities this close as equal.
const tieEpsilon = 1e-9

type Config struct {
	Threshold     float64
	TTL           time.Duration
	Capacity      int
	SweepInterval time.Duration
	// InFlightWait bounds how long a duplicate request waits for the leader.
	InFlightWait time.Duration
	// StaleAfter is the watchdog after which an in-flight marker is ignored.
	StaleAfter   time.Duration
	StoreTimeout time.Duration
	StoreQueue   int
}

func DefaultConfig() Config {
	return Config{
		Threshold:     0.95,
		TTL:           7 * 24 * time.Hour,
		Capacity:      10000,
		SweepInterval: 10 * time.Minute,
		InFlightWait:  45 * time.Second,
		StaleAfter:    90 * time.Second,
		StoreTimeout:  2 * time.Second,
		StoreQueue:    256,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()
	if out.Threshold <= 0 || out.Threshold > 1 {
		out.Threshold = def.Threshold
	}
	if out.TTL <= 0 {
		out.TTL = def.TTL
	}
	if out.Capacity <= 0 {
		out.Capacity = def.Capacity
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = def.SweepInterval
	}
	if out.InFlightWait <= 0 {
		out.InFlightWait = def.InFlightWait
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = def.StaleAfter
	}
	if out.StoreTimeout <= 0 {
		out.StoreTimeout = def.StoreTimeout
	}
	if out.StoreQueue <= 0 {
		out.StoreQueue = def.StoreQueue
	}
	return out
}

// SweepObserver is notified after each background sweep.
type SweepObserver interface {
	ObserveSweep(removed int, duration time.Duration, err error)
}

// Cache is an in-memory semantic cache with optional write-through persistence.
// The entry table and in-flight registry share one mutex.
type Cache struct {
	cfg      Config
	store    ports.CacheStore
	observer SweepObserver
	now      func() time.Time

	mu       sync.Mutex
	entries  map[string]*domain.CacheEntry
	byKey    map[string]string
	inflight map[string]*flight

	ops chan storeOp

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
	shared    atomic.Int64
	dropped   atomic.Int64
}

type Option func(*Cache)

func WithStore(store ports.CacheStore) Option {
	return func(c *Cache) { c.store = store }
}

func WithSweepObserver(observer SweepObserver) Option {
	return func(c *Cache) { c.observer = observer }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(cfg Config, opts ...Option) *Cache {
	cfg = cfg.normalize()
	c := &Cache{
		cfg:      cfg,
		now:      time.Now,
		entries:  make(map[string]*domain.CacheEntry),
		byKey:    make(map[string]string),
		inflight: make(map[string]*flight),
		ops:      make(chan storeOp, cfg.StoreQueue),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Warm loads live entries from the backing store. Failures leave the cache empty.
func (c *Cache) Warm(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	loadCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	entries, err := c.store.LoadLive(loadCtx, c.now(), c.cfg.Capacity)
	if err != nil {
		slog.Warn("cache_warm_failed", "error", err)
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	loaded := 0
	for i := range entries {
		entry := entries[i]
		if !entry.Live(now) || len(entry.Embedding) == 0 {
			continue
		}
		c.insertLocked(&entry)
		loaded++
	}
	c.evictLocked(now)
	slog.Info("cache_warmed", "entries", loaded)
	return loaded
}

// Lookup returns the most similar live entry at or above the threshold.
func (c *Cache) Lookup(_ context.Context, embedding []float32) (domain.CacheEntry, bool, error) {
	return c.lookup(embedding, true)
}

// Recheck is Lookup for a caller whose miss was already counted, such as an
// in-flight leader looking again after Acquire. Hits still count.
func (c *Cache) Recheck(_ context.Context, embedding []float32) (domain.CacheEntry, bool, error) {
	return c.lookup(embedding, false)
}

func (c *Cache) lookup(embedding []float32, countMiss bool) (domain.CacheEntry, bool, error) {
	if len(embedding) == 0 {
		return domain.CacheEntry{}, false, domain.NewError(domain.ErrCacheUnavailable, "cache lookup", "empty query embedding")
	}

	c.mu.Lock()
	now := c.now()
	var (
		best    *domain.CacheEntry
		bestSim float64
		expired []string
	)
	for id, entry := range c.entries {
		if !entry.Live(now) {
			c.removeLocked(id)
			expired = append(expired, id)
			continue
		}
		sim := domain.CosineSimilarity(embedding, entry.Embedding)
		if sim < c.cfg.Threshold {
			continue
		}
		switch {
		case best == nil || sim > bestSim+tieEpsilon:
			best, bestSim = entry, sim
		case math.Abs(sim-bestSim) <= tieEpsilon && newerEntry(entry, best):
			best, bestSim = entry, sim
		}
	}

	if best == nil {
		c.mu.Unlock()
		if countMiss {
			c.misses.Add(1)
		}
		c.afterExpire(expired)
		return domain.CacheEntry{}, false, nil
	}

	best.HitCount++
	best.LastHitAt = now
	out := copyEntry(*best)
	c.mu.Unlock()

	c.hits.Add(1)
	c.afterExpire(expired)
	c.enqueue(storeOp{kind: opHit, entry: out})
	return out, true, nil
}

func newerEntry(a, b *domain.CacheEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Store records an answer. An existing entry for the same key is replaced.
func (c *Cache) Store(_ context.Context, key string, embedding []float32, resp *domain.QueryResponse) error {
	if len(embedding) == 0 || resp == nil {
		return domain.NewError(domain.ErrCacheUnavailable, "cache store", "nothing to store")
	}

	now := c.now()
	entry := &domain.CacheEntry{
		ID:         uuid.NewString(),
		Key:        key,
		Embedding:  append([]float32(nil), embedding...),
		Answer:     resp.Answer,
		Sources:    append([]string(nil), resp.Sources...),
		Confidence: resp.Confidence,
		CreatedAt:  now,
		TTL:        c.cfg.TTL,
		Threshold:  c.cfg.Threshold,
	}

	c.mu.Lock()
	var replaced []string
	if oldID, ok := c.byKey[key]; ok {
		c.removeLocked(oldID)
		replaced = append(replaced, oldID)
	}
	c.insertLocked(entry)
	evicted := c.evictLocked(now)
	saved := copyEntry(*entry)
	c.mu.Unlock()

	c.enqueue(storeOp{kind: opSave, entry: saved})
	if ids := append(replaced, evicted...); len(ids) > 0 {
		c.enqueue(storeOp{kind: opDelete, ids: ids})
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	c.mu.Lock()
	now := c.now()
	removed := make([]string, 0)
	for id, entry := range c.entries {
		if !entry.Live(now) {
			c.removeLocked(id)
			removed = append(removed, id)
		}
	}
	c.mu.Unlock()
	c.expired.Add(int64(len(removed)))

	if c.store == nil {
		return len(removed), nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	if _, err := c.store.PurgeExpired(storeCtx, now); err != nil {
		return len(removed), err
	}
	return len(removed), nil
}

func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	inflight := len(c.inflight)
	c.mu.Unlock()
	return domain.CacheStats{
		Entries:       entries,
		Capacity:      c.cfg.Capacity,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Expired:       c.expired.Load(),
		InFlight:      inflight,
		SharedResults: c.shared.Load(),
	}
}

// Run drives the background sweep and the write-through queue until ctx ends.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case op := <-c.ops:
			c.apply(ctx, op)
		case <-ticker.C:
			start := time.Now()
			removed, err := c.Sweep(ctx)
			if err != nil {
				slog.Warn("cache_sweep_failed", "error", err)
			} else if removed > 0 {
				slog.Info("cache_sweep", "removed", removed)
			}
			if c.observer != nil {
				c.observer.ObserveSweep(removed, time.Since(start), err)
			}
		}
	}
}

func (c *Cache) insertLocked(entry *domain.CacheEntry) {
	c.entries[entry.ID] = entry
	if entry.Key != "" {
		c.byKey[entry.Key] = entry.ID
	}
}

func (c *Cache) removeLocked(id string) {
	entry, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	if entry.Key != "" && c.byKey[entry.Key] == id {
		delete(c.byKey, entry.Key)
	}
}

// evictLocked enforces capacity, dropping expired entries first and then the
// least recently hit.
func (c *Cache) evictLocked(now time.Time) []string {
	if len(c.entries) <= c.cfg.Capacity {
		return nil
	}
	evicted := make([]string, 0)
	for id, entry := range c.entries {
		if !entry.Live(now) {
			c.removeLocked(id)
			evicted = append(evicted, id)
			c.expired.Add(1)
		}
	}
	for len(c.entries) > c.cfg.Capacity {
		var victim *domain.CacheEntry
		for _, entry := range c.entries {
			if victim == nil || lessRecentlyUsed(entry, victim) {
				victim = entry
			}
		}
		c.removeLocked(victim.ID)
		evicted = append(evicted, victim.ID)
		c.evictions.Add(1)
	}
	return evicted
}

func lessRecentlyUsed(a, b *domain.CacheEntry) bool {
	au, bu := a.LastUsed(), b.LastUsed()
	if !au.Equal(bu) {
		return au.Before(bu)
	}
	if a.HitCount != b.HitCount {
		return a.HitCount < b.HitCount
	}
	return a.ID < b.ID
}

func (c *Cache) afterExpire(ids []string) {
	if len(ids) == 0 {
		return
	}
	c.expired.Add(int64(len(ids)))
	c.enqueue(storeOp{kind: opDelete, ids: ids})
}

func copyEntry(e domain.CacheEntry) domain.CacheEntry {
	e.Embedding = append([]float32(nil), e.Embedding...)
	e.Sources = append([]string(nil), e.Sources...)
	return e
}
