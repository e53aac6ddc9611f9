package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS semantic_cache (
	id TEXT PRIMARY KEY,
	cache_key TEXT NOT NULL,
	embedding TEXT NOT NULL,
	answer TEXT NOT NULL,
	sources TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	threshold REAL NOT NULL,
	ttl_ns INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at_ns INTEGER NOT NULL,
	expires_at_ns INTEGER NOT NULL,
	last_hit_at_ns INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_expires ON semantic_cache(expires_at_ns);
`

// CacheRepository keeps semantic cache entries in a local SQLite file.
// Timestamps are stored as unix nanoseconds.
type CacheRepository struct {
	db *sql.DB
}

func Open(path string) (*CacheRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure cache db: %w", err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &CacheRepository{db: db}, nil
}

func (r *CacheRepository) Close() error {
	return r.db.Close()
}

func (r *CacheRepository) LoadLive(ctx context.Context, now time.Time, limit int) ([]domain.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, cache_key, embedding, answer, sources, confidence, threshold, ttl_ns, hit_count, created_at_ns, last_hit_at_ns
FROM semantic_cache
WHERE expires_at_ns > ?
ORDER BY MAX(last_hit_at_ns, created_at_ns) DESC
LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CacheEntry, 0)
	for rows.Next() {
		var (
			entry            domain.CacheEntry
			embedding        string
			sources          string
			ttl              int64
			created, lastHit int64
		)
		if err := rows.Scan(&entry.ID, &entry.Key, &embedding, &entry.Answer, &sources, &entry.Confidence,
			&entry.Threshold, &ttl, &entry.HitCount, &created, &lastHit); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", entry.ID, err)
		}
		if err := json.Unmarshal([]byte(sources), &entry.Sources); err != nil {
			return nil, fmt.Errorf("decode sources for %s: %w", entry.ID, err)
		}
		entry.TTL = time.Duration(ttl)
		entry.CreatedAt = time.Unix(0, created).UTC()
		if lastHit > 0 {
			entry.LastHitAt = time.Unix(0, lastHit).UTC()
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *CacheRepository) Save(ctx context.Context, entry domain.CacheEntry) error {
	embedding, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	var lastHit int64
	if !entry.LastHitAt.IsZero() {
		lastHit = entry.LastHitAt.UnixNano()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT OR REPLACE INTO semantic_cache
	(id, cache_key, embedding, answer, sources, confidence, threshold, ttl_ns, hit_count, created_at_ns, expires_at_ns, last_hit_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Key, string(embedding), entry.Answer, string(sources), entry.Confidence, entry.Threshold,
		int64(entry.TTL), entry.HitCount, entry.CreatedAt.UnixNano(), entry.CreatedAt.Add(entry.TTL).UnixNano(), lastHit,
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepository) RecordHit(ctx context.Context, id string, hitCount int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE semantic_cache SET hit_count = ?, last_hit_at_ns = ? WHERE id = ?`,
		hitCount, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update cache hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.ErrNotFound, "record cache hit", id)
	}
	return nil
}

func (r *CacheRepository) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM semantic_cache WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete cache entry %s: %w", id, err)
		}
	}
	return nil
}

func (r *CacheRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM semantic_cache WHERE expires_at_ns <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
