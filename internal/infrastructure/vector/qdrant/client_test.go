package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

func TestSearchDecodesPointsWithDenseVector(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/docs/points/query" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"id":"7f7c","score":0.91,"payload":{"chunk_id":"ktp-01","text":"Syarat KTP","source":"ktp.md","created_at":"2026-01-02T03:04:05Z"},"vector":{"dense":[0.1,0.2]}},
			{"id":"8a8a","score":0.40,"payload":{"text":"orphan"}}
		]}}`))
	}))
	defer server.Close()

	client := New(server.URL, "docs", nil)
	hits, err := client.Search(context.Background(), []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if captured["using"] != denseVectorName {
		t.Fatalf("expected dense vector query, got %v", captured["using"])
	}
	if len(hits) != 1 {
		t.Fatalf("expected point without chunk_id skipped, got %d hits", len(hits))
	}
	got := hits[0]
	if got.Chunk.ID != "ktp-01" || got.Chunk.Source != "ktp.md" || len(got.Chunk.Embedding) != 2 || got.Score != 0.91 {
		t.Fatalf("unexpected hit: %+v", got)
	}
	if got.Chunk.CreatedAt.Year() != 2026 {
		t.Fatalf("expected created_at parsed, got %v", got.Chunk.CreatedAt)
	}
}

func TestSearchLexicalSendsSparseQuery(t *testing.T) {
	var captured struct {
		Using string       `json:"using"`
		Query sparseVector `json:"query"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":{"points":[]}}`))
	}))
	defer server.Close()

	client := New(server.URL, "docs", nil)
	if _, err := client.SearchLexical(context.Background(), "syarat ktp baru", 10); err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if captured.Using != sparseVectorName || len(captured.Query.Indices) != 3 {
		t.Fatalf("unexpected sparse query: %+v", captured)
	}
}

func TestSearchLexicalSkipsEmptyQuery(t *testing.T) {
	client := New("http://127.0.0.1:1", "docs", nil)
	hits, err := client.SearchLexical(context.Background(), "?!", 10)
	if err != nil || hits != nil {
		t.Fatalf("expected no call for noise query, got %v %v", hits, err)
	}
}

func TestSearchRetriesServerErrorsAndWrapsTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	client := New(server.URL, "docs", executor)
	_, err := client.Search(context.Background(), []float32{1}, 3)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected body in error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "wrong vector name", http.StatusBadRequest)
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	client := New(server.URL, "docs", executor)
	_, err := client.Search(context.Background(), []float32{1}, 3)
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}
