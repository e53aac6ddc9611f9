package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func openTestRepo(t *testing.T) *CacheRepository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSaveAndLoadLiveRoundTripsEntry(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, domain.CacheEntry{
		ID:         "e-1",
		Key:        "syarat paspor",
		Embedding:  []float32{0.1, 0.9},
		Answer:     "KTP, KK, akta kelahiran",
		Sources:    []string{"c-7"},
		Confidence: 0.66,
		Threshold:  0.95,
		TTL:        24 * time.Hour,
		CreatedAt:  created,
	}))
	require.NoError(t, repo.RecordHit(ctx, "e-1", 2, created.Add(time.Minute)))

	entries, err := repo.LoadLive(ctx, created.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "syarat paspor", got.Key)
	assert.Equal(t, []float32{0.1, 0.9}, got.Embedding)
	assert.Equal(t, []string{"c-7"}, got.Sources)
	assert.Equal(t, int64(2), got.HitCount)
	assert.Equal(t, 24*time.Hour, got.TTL)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.LastHitAt.Equal(created.Add(time.Minute)))
}

func TestLoadLiveSkipsExpiredAndPurgeRemovesThem(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	for _, e := range []domain.CacheEntry{
		{ID: "old", Key: "a", Embedding: []float32{1}, Answer: "x", TTL: time.Minute, CreatedAt: created},
		{ID: "new", Key: "b", Embedding: []float32{1}, Answer: "y", TTL: time.Hour, CreatedAt: created},
	} {
		require.NoError(t, repo.Save(ctx, e))
	}

	now := created.Add(10 * time.Minute)
	entries, err := repo.LoadLive(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)

	purged, err := repo.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestRecordHitUnknownIDIsNotFound(t *testing.T) {
	repo := openTestRepo(t)
	err := repo.RecordHit(context.Background(), "nope", 1, time.Now())
	assert.True(t, domain.IsKind(err, domain.ErrNotFound))
}

func TestDeleteRemovesEntries(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Now().UTC()
	require.NoError(t, repo.Save(ctx, domain.CacheEntry{ID: "d", Key: "k", Embedding: []float32{1}, Answer: "a", TTL: time.Hour, CreatedAt: created}))

	require.NoError(t, repo.Delete(ctx, []string{"d"}))

	entries, err := repo.LoadLive(ctx, created, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
