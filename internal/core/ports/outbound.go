package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher is the read side of the document chunk index.
type ChunkSearcher interface {
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error)
	SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.ScoredChunk, error)
}

// TextGenerator is one generation backend bound to its tier configuration.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (domain.GenerationResult, error)
}

// Reranker reorders candidates with a more expensive relevance estimate.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error)
}

// CacheStore is the optional durable backing store of the semantic cache.
type CacheStore interface {
	LoadLive(ctx context.Context, now time.Time, limit int) ([]domain.CacheEntry, error)
	Save(ctx context.Context, entry domain.CacheEntry) error
	RecordHit(ctx context.Context, id string, hitCount int64, at time.Time) error
	Delete(ctx context.Context, ids []string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Flight is a pending pipeline execution other requests may wait on.
type Flight interface {
	// Wait returns the leader's response, or false when the caller must run on its own.
	Wait(ctx context.Context) (*domain.QueryResponse, bool)
	Complete(resp *domain.QueryResponse, err error)
}

// SemanticCache maps similar queries to prior answers.
type SemanticCache interface {
	Lookup(ctx context.Context, embedding []float32) (domain.CacheEntry, bool, error)
	// Recheck looks up again without counting a second miss.
	Recheck(ctx context.Context, embedding []float32) (domain.CacheEntry, bool, error)
	Store(ctx context.Context, key string, embedding []float32, resp *domain.QueryResponse) error
	Acquire(key string, embedding []float32) (Flight, bool)
}

// RolloutEventPublisher fans out rollback events.
type RolloutEventPublisher interface {
	PublishRolloutEvent(ctx context.Context, event domain.RolloutEvent) error
}

// VariantAssigner picks the pipeline variant for a request.
type VariantAssigner interface {
	Assign(requestID string) domain.VariantConfig
}

// OutcomeRecorder receives per-request outcomes without blocking.
type OutcomeRecorder interface {
	Record(outcome domain.RequestOutcome)
}

// Generator runs the tiered generation with fallback.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationOutput, error)
}
