package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func newCacheRepoWithMock(t *testing.T) (*CacheRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &CacheRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestRecordHitReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newCacheRepoWithMock(t)
	defer done()

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE semantic_cache").
		WithArgs("missing", int64(3), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordHit(context.Background(), "missing", 3, at)
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveWritesExpiryFromTTL(t *testing.T) {
	repo, mock, done := newCacheRepoWithMock(t)
	defer done()

	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	entry := domain.CacheEntry{
		ID:         "e-1",
		Key:        "apa syarat ktp",
		Embedding:  []float32{0.5, 0.5},
		Answer:     "bawa KK",
		Sources:    []string{"c-1"},
		Confidence: 0.8,
		Threshold:  0.95,
		TTL:        time.Hour,
		CreatedAt:  created,
	}
	mock.ExpectExec("INSERT INTO semantic_cache").
		WithArgs("e-1", "apa syarat ktp", []byte(`[0.5,0.5]`), "bawa KK", []byte(`["c-1"]`), 0.8, 0.95,
			int64(3600), int64(0), created, created.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadLiveDecodesRows(t *testing.T) {
	repo, mock, done := newCacheRepoWithMock(t)
	defer done()

	now := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "cache_key", "embedding", "answer", "sources", "confidence", "threshold", "ttl_seconds", "hit_count", "created_at", "last_hit_at",
	}).AddRow("e-1", "k", []byte(`[1,0]`), "a", []byte(`["c-1","c-2"]`), 0.7, 0.95, int64(7200), int64(4), created, nil)

	mock.ExpectQuery("SELECT id, cache_key, embedding").
		WithArgs(now, 10).
		WillReturnRows(rows)

	entries, err := repo.LoadLive(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("LoadLive() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.TTL != 2*time.Hour || got.HitCount != 4 || len(got.Sources) != 2 || len(got.Embedding) != 2 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.LastHitAt.IsZero() {
		t.Fatalf("expected zero last hit, got %v", got.LastHitAt)
	}
}

func TestDeleteRollsBackOnError(t *testing.T) {
	repo, mock, done := newCacheRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM semantic_cache").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM semantic_cache").WithArgs("b").WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	if err := repo.Delete(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPurgeExpiredReturnsAffectedRows(t *testing.T) {
	repo, mock, done := newCacheRepoWithMock(t)
	defer done()

	now := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM semantic_cache WHERE expires_at").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.PurgeExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 purged, got %d", n)
	}
}
