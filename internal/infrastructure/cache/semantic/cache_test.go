package semantic

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type clockFake struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clockFake {
	return &clockFake{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *clockFake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clockFake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFake struct {
	mu      sync.Mutex
	saved   []domain.CacheEntry
	hits    []string
	deleted []string
	live    []domain.CacheEntry
	loadErr error
}

func (s *storeFake) LoadLive(context.Context, time.Time, int) ([]domain.CacheEntry, error) {
	return s.live, s.loadErr
}

func (s *storeFake) Save(_ context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, entry)
	return nil
}

func (s *storeFake) RecordHit(_ context.Context, id string, _ int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = append(s.hits, id)
	return nil
}

func (s *storeFake) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *storeFake) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *storeFake) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved), len(s.hits), len(s.deleted)
}

func answer(text string) *domain.QueryResponse {
	return &domain.QueryResponse{Answer: text, Sources: []string{"chunk-1"}, Confidence: 0.8}
}

func TestLookupHitsAtOrAboveThreshold(t *testing.T) {
	c := New(Config{Threshold: 0.95})
	require.NoError(t, c.Store(context.Background(), "syarat ktp", []float32{1, 0}, answer("bawa kk")))

	entry, hit, err := c.Lookup(context.Background(), []float32{1, 0.1})
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "bawa kk", entry.Answer)
	assert.Equal(t, int64(1), entry.HitCount)

	_, hit, err = c.Lookup(context.Background(), []float32{1, 1})
	require.NoError(t, err)
	assert.False(t, hit)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

// unitAt returns a unit vector whose cosine with {1, 0} is cos.
func unitAt(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestLookupThresholdBoundary(t *testing.T) {
	c := New(Config{Threshold: 0.95})
	require.NoError(t, c.Store(context.Background(), "syarat ktp", []float32{1, 0}, answer("bawa kk")))

	_, hit, err := c.Lookup(context.Background(), unitAt(0.9499))
	require.NoError(t, err)
	assert.False(t, hit, "similarity just below threshold must miss")

	_, hit, err = c.Lookup(context.Background(), unitAt(0.9501))
	require.NoError(t, err)
	assert.True(t, hit, "similarity just above threshold must hit")
}

func TestRecheckDoesNotCountMisses(t *testing.T) {
	c := New(Config{Threshold: 0.95})

	_, hit, err := c.Recheck(context.Background(), []float32{1, 0})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(0), c.Stats().Misses)

	require.NoError(t, c.Store(context.Background(), "k", []float32{1, 0}, answer("bawa kk")))
	_, hit, err = c.Recheck(context.Background(), []float32{1, 0})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestLookupRejectsEmptyEmbedding(t *testing.T) {
	c := New(DefaultConfig())
	_, _, err := c.Lookup(context.Background(), nil)
	assert.True(t, domain.IsKind(err, domain.ErrCacheUnavailable))
}

func TestExpiredEntryIsNeverReturned(t *testing.T) {
	clock := newClock()
	c := New(Config{TTL: time.Hour}, WithClock(clock.Now))
	require.NoError(t, c.Store(context.Background(), "k", []float32{1, 0}, answer("old")))

	clock.Advance(time.Hour)
	_, hit, err := c.Lookup(context.Background(), []float32{1, 0})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(1), c.Stats().Expired)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	clock := newClock()
	c := New(Config{TTL: time.Minute}, WithClock(clock.Now))
	require.NoError(t, c.Store(context.Background(), "a", []float32{1, 0}, answer("a")))
	clock.Advance(30 * time.Second)
	require.NoError(t, c.Store(context.Background(), "b", []float32{0, 1}, answer("b")))
	clock.Advance(45 * time.Second)

	removed, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	clock := newClock()
	c := New(Config{Capacity: 2}, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", []float32{1, 0, 0}, answer("a")))
	clock.Advance(time.Second)
	require.NoError(t, c.Store(ctx, "b", []float32{0, 1, 0}, answer("b")))
	clock.Advance(time.Second)
	_, hit, _ := c.Lookup(ctx, []float32{1, 0, 0})
	require.True(t, hit)
	clock.Advance(time.Second)
	require.NoError(t, c.Store(ctx, "c", []float32{0, 0, 1}, answer("c")))

	assert.Equal(t, 2, c.Stats().Entries)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	_, hit, _ = c.Lookup(ctx, []float32{0, 1, 0})
	assert.False(t, hit, "b was least recently used")
	_, hit, _ = c.Lookup(ctx, []float32{1, 0, 0})
	assert.True(t, hit)
}

func TestEqualSimilarityPrefersNewestEntry(t *testing.T) {
	clock := newClock()
	c := New(DefaultConfig(), WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "syarat ktp", []float32{0.6, 0.8}, answer("older")))
	clock.Advance(time.Minute)
	require.NoError(t, c.Store(ctx, "syarat ktp baru", []float32{0.6, 0.8}, answer("newer")))

	for i := 0; i < 5; i++ {
		entry, hit, err := c.Lookup(ctx, []float32{0.6, 0.8})
		require.NoError(t, err)
		require.True(t, hit)
		assert.Equal(t, "newer", entry.Answer)
	}
}

func TestStoreSameKeyReplacesEntry(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, "k", []float32{1, 0}, answer("first")))
	require.NoError(t, c.Store(ctx, "k", []float32{1, 0}, answer("second")))

	assert.Equal(t, 1, c.Stats().Entries)
	entry, hit, _ := c.Lookup(ctx, []float32{1, 0})
	require.True(t, hit)
	assert.Equal(t, "second", entry.Answer)
}

func TestInFlightFollowerReceivesLeaderResult(t *testing.T) {
	c := New(DefaultConfig())

	leaderFlight, leader := c.Acquire("syarat ktp", []float32{1, 0})
	require.True(t, leader)

	sameKey, isLeader := c.Acquire("syarat ktp", nil)
	require.False(t, isLeader)
	similar, isLeader := c.Acquire("persyaratan ktp", []float32{1, 0.05})
	require.False(t, isLeader)
	assert.Equal(t, 1, c.Stats().InFlight)

	var wg sync.WaitGroup
	results := make([]*domain.QueryResponse, 2)
	for i, f := range []interface {
		Wait(context.Context) (*domain.QueryResponse, bool)
	}{sameKey, similar} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, ok := f.Wait(context.Background())
			if ok {
				results[i] = resp
			}
		}()
	}

	leaderFlight.Complete(answer("bawa kk asli"), nil)
	wg.Wait()

	for _, resp := range results {
		require.NotNil(t, resp)
		assert.Equal(t, "bawa kk asli", resp.Answer)
	}
	assert.Equal(t, 0, c.Stats().InFlight)
	assert.Equal(t, int64(2), c.Stats().SharedResults)
}

func TestInFlightLeaderErrorIsNotShared(t *testing.T) {
	c := New(DefaultConfig())
	leaderFlight, _ := c.Acquire("k", nil)
	follower, _ := c.Acquire("k", nil)

	leaderFlight.Complete(nil, errors.New("all tiers down"))
	resp, ok := follower.Wait(context.Background())
	assert.False(t, ok)
	assert.Nil(t, resp)

	_, leader := c.Acquire("k", nil)
	assert.True(t, leader, "marker must be cleared after completion")
}

func TestInFlightWaitIsBounded(t *testing.T) {
	c := New(Config{InFlightWait: 20 * time.Millisecond})
	_, _ = c.Acquire("k", nil)
	follower, _ := c.Acquire("k", nil)

	start := time.Now()
	_, ok := follower.Wait(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStaleMarkerIsReplaced(t *testing.T) {
	clock := newClock()
	c := New(Config{StaleAfter: time.Minute}, WithClock(clock.Now))

	crashed, leader := c.Acquire("k", nil)
	require.True(t, leader)
	clock.Advance(2 * time.Minute)

	fresh, leader := c.Acquire("k", nil)
	require.True(t, leader, "stale marker must not block a new leader")

	crashed.Complete(nil, errors.New("late"))
	assert.Equal(t, 1, c.Stats().InFlight, "late completion must not clear the new marker")
	fresh.Complete(answer("ok"), nil)
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestWriteThroughAndWarm(t *testing.T) {
	store := &storeFake{}
	c := New(DefaultConfig(), WithStore(store))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.NoError(t, c.Store(context.Background(), "k", []float32{1, 0}, answer("a")))
	_, hit, _ := c.Lookup(context.Background(), []float32{1, 0})
	require.True(t, hit)

	require.Eventually(t, func() bool {
		saved, hits, _ := store.counts()
		return saved == 1 && hits == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	warmStore := &storeFake{live: []domain.CacheEntry{
		{ID: "live", Key: "a", Embedding: []float32{1, 0}, Answer: "a", CreatedAt: time.Now(), TTL: time.Hour},
		{ID: "dead", Key: "b", Embedding: []float32{0, 1}, Answer: "b", CreatedAt: time.Now().Add(-2 * time.Hour), TTL: time.Hour},
		{ID: "novec", Key: "c", Answer: "c", CreatedAt: time.Now(), TTL: time.Hour},
	}}
	warmed := New(DefaultConfig(), WithStore(warmStore))
	assert.Equal(t, 1, warmed.Warm(context.Background()))
	assert.Equal(t, 1, warmed.Stats().Entries)
}

func TestWarmFailureLeavesCacheEmpty(t *testing.T) {
	c := New(DefaultConfig(), WithStore(&storeFake{loadErr: errors.New("db down")}))
	assert.Equal(t, 0, c.Warm(context.Background()))
	assert.Equal(t, 0, c.Stats().Entries)
}
