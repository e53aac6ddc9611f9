package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

type HybridRetrieverConfig struct {
	// CandidatePool is how many hits each signal contributes before fusion.
	CandidatePool int
	RRFK          int
}

// HybridRetriever fuses lexical and vector search over the chunk index.
type HybridRetriever struct {
	searcher ports.ChunkSearcher
	cfg      HybridRetrieverConfig
}

func NewHybridRetriever(searcher ports.ChunkSearcher, cfg HybridRetrieverConfig) *HybridRetriever {
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = 30
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	return &HybridRetriever{searcher: searcher, cfg: cfg}
}

// Retrieve returns at most limit candidates. A failing signal degrades the
// result instead of failing it; only cancellation is returned as an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, query domain.Query, limit int) (domain.RetrievalResult, error) {
	if limit <= 0 {
		limit = defaultTopK
	}
	pool := r.cfg.CandidatePool
	if pool < limit {
		pool = limit
	}

	var (
		lexicalHits, vectorHits     []domain.ScoredChunk
		lexicalFailed, vectorFailed bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.searcher.SearchLexical(gctx, query.Normalized, pool)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.Warn("retrieval_signal_failed", "request_id", query.RequestID, "signal", "lexical", "error", err)
			lexicalFailed = true
			return nil
		}
		lexicalHits = hits
		return nil
	})
	g.Go(func() error {
		if len(query.Embedding) == 0 {
			vectorFailed = true
			return nil
		}
		hits, err := r.searcher.Search(gctx, query.Embedding, pool)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.Warn("retrieval_signal_failed", "request_id", query.RequestID, "signal", "vector", "error", err)
			vectorFailed = true
			return nil
		}
		vectorHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.RetrievalResult{}, err
	}

	fused := fuseCandidatesRRF(query, lexicalHits, vectorHits, r.cfg.RRFK)
	return domain.RetrievalResult{
		Candidates:    trimCandidates(fused, limit),
		LexicalFailed: lexicalFailed,
		VectorFailed:  vectorFailed,
	}, nil
}
