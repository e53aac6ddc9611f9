package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// CacheRepository is the Postgres backing store of the semantic cache.
type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *CacheRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent api replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS semantic_cache (
	id TEXT PRIMARY KEY,
	cache_key TEXT NOT NULL,
	embedding JSONB NOT NULL,
	answer TEXT NOT NULL,
	sources JSONB NOT NULL DEFAULT '[]'::jsonb,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	threshold DOUBLE PRECISION NOT NULL,
	ttl_seconds BIGINT NOT NULL,
	hit_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	last_hit_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_semantic_cache_expires_at ON semantic_cache(expires_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CacheRepository) LoadLive(ctx context.Context, now time.Time, limit int) ([]domain.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, cache_key, embedding, answer, sources, confidence, threshold, ttl_seconds, hit_count, created_at, last_hit_at
FROM semantic_cache
WHERE expires_at > $1
ORDER BY COALESCE(last_hit_at, created_at) DESC
LIMIT $2
`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CacheEntry, 0)
	for rows.Next() {
		var (
			entry      domain.CacheEntry
			embedding  []byte
			sources    []byte
			ttlSeconds int64
			lastHit    sql.NullTime
		)
		if err := rows.Scan(
			&entry.ID, &entry.Key, &embedding, &entry.Answer, &sources, &entry.Confidence,
			&entry.Threshold, &ttlSeconds, &entry.HitCount, &entry.CreatedAt, &lastHit,
		); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if err := json.Unmarshal(embedding, &entry.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", entry.ID, err)
		}
		if err := json.Unmarshal(sources, &entry.Sources); err != nil {
			return nil, fmt.Errorf("decode sources for %s: %w", entry.ID, err)
		}
		entry.TTL = time.Duration(ttlSeconds) * time.Second
		if lastHit.Valid {
			entry.LastHitAt = lastHit.Time
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return out, nil
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

	_, err = r.db.ExecContext(ctx, `
INSERT INTO semantic_cache (
	id, cache_key, embedding, answer, sources, confidence, threshold, ttl_seconds, hit_count, created_at, expires_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
	answer = EXCLUDED.answer,
	sources = EXCLUDED.sources,
	confidence = EXCLUDED.confidence,
	expires_at = EXCLUDED.expires_at
`,
		entry.ID, entry.Key, embedding, entry.Answer, sources, entry.Confidence, entry.Threshold,
		int64(entry.TTL/time.Second), entry.HitCount, entry.CreatedAt, entry.CreatedAt.Add(entry.TTL),
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepository) RecordHit(ctx context.Context, id string, hitCount int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE semantic_cache
SET hit_count = $2, last_hit_at = $3
WHERE id = $1
`, id, hitCount, at)
	if err != nil {
		return fmt.Errorf("update cache hit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewError(domain.ErrNotFound, "record cache hit", id)
	}
	return nil
}

func (r *CacheRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_cache WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete cache entry %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (r *CacheRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM semantic_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}
