package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

const (
	defaultTopK = 5
	maxTopK     = 50
)

type QueryConfig struct {
	MaxQueryLength int
	Timeout        time.Duration
	DefaultTopK    int
}

// QueryDeps are the collaborators of one QueryUseCase. Cache, Recorder,
// Reranker and Compressor are optional.
type QueryDeps struct {
	Guardrail  *GuardrailEvaluator
	Rollout    ports.VariantAssigner
	Embedder   ports.Embedder
	Cache      ports.SemanticCache
	Retriever  *HybridRetriever
	Rerank     *RerankStage
	Compressor *Compressor
	Generator  ports.Generator
	Recorder   ports.OutcomeRecorder
}

// QueryUseCase sequences guardrail, variant assignment, cache, retrieval,
// reranking, compression and tiered generation for one request.
type QueryUseCase struct {
	cfg  QueryConfig
	deps QueryDeps
	now  func() time.Time
}

func NewQueryUseCase(cfg QueryConfig, deps QueryDeps) *QueryUseCase {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = domain.DefaultMaxQueryLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = defaultTopK
	}
	if deps.Guardrail == nil {
		deps.Guardrail = NewGuardrailEvaluator(domain.DefaultGuardrailLexicon())
	}
	if deps.Rerank == nil {
		deps.Rerank = NewRerankStage(HeuristicReranker{}, 0, 0)
	}
	return &QueryUseCase{cfg: cfg, deps: deps, now: time.Now}
}

type pipelineResult struct {
	resp             *domain.QueryResponse
	quality          *float64
	compressionRatio *float64
}

func (uc *QueryUseCase) Ask(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	start := uc.now()
	if err := uc.validate(req); err != nil {
		return nil, err
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	query := domain.Query{
		RequestID:  requestID,
		Raw:        strings.TrimSpace(req.Query),
		Normalized: domain.NormalizeQuery(req.Query),
		Options:    req.Options,
	}

	verdict := uc.deps.Guardrail.Evaluate(query.Normalized)
	if verdict.Verdict != domain.VerdictAnswerable {
		outcome := domain.OutcomeClarification
		if verdict.Verdict == domain.VerdictOutOfScope {
			outcome = domain.OutcomeRefusal
		}
		slog.Info("guardrail_short_circuit", "request_id", requestID, "verdict", string(verdict.Verdict), "missing", verdict.Missing)
		return &domain.QueryResponse{
			RequestID: requestID,
			Answer:    verdict.Message,
			Sources:   []string{},
			LatencyMs: uc.now().Sub(start).Milliseconds(),
			Outcome:   outcome,
		}, nil
	}

	variant := domain.VariantConfig{Name: domain.VariantBaseline, TopK: uc.cfg.DefaultTopK, UseRerank: true}
	if uc.deps.Rollout != nil {
		variant = uc.deps.Rollout.Assign(requestID)
	}

	reqCtx, cancel := context.WithTimeout(ctx, uc.cfg.Timeout)
	defer cancel()

	result, err := uc.answer(reqCtx, query, variant)
	latency := uc.now().Sub(start)
	// A caller that went away says nothing about the variant.
	if err == nil || ctx.Err() == nil {
		uc.record(variant.Name, latency, result, err)
	}

	if err != nil {
		slog.Warn("query_failed",
			"request_id", requestID,
			"variant", variant.Name,
			"code", domain.ErrorCode(err),
			"duration_ms", latency.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	resp := *result.resp
	resp.RequestID = requestID
	resp.LatencyMs = latency.Milliseconds()
	slog.Info("query_completed",
		"request_id", requestID,
		"variant", resp.Variant,
		"from_cache", resp.FromCache,
		"tier", resp.Tier,
		"sources", len(resp.Sources),
		"duration_ms", resp.LatencyMs,
	)
	return &resp, nil
}

func (uc *QueryUseCase) validate(req domain.QueryRequest) error {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return domain.NewError(domain.ErrInvalidInput, "validate query", "query is required")
	}
	if n := utf8.RuneCountInString(req.Query); n > uc.cfg.MaxQueryLength {
		return domain.NewError(domain.ErrInvalidInput, "validate query",
			fmt.Sprintf("query length %d exceeds limit %d", n, uc.cfg.MaxQueryLength))
	}
	if req.Options.TopK < 0 || req.Options.TopK > maxTopK {
		return domain.NewError(domain.ErrInvalidInput, "validate query",
			fmt.Sprintf("topK must be between 1 and %d", maxTopK))
	}
	return nil
}

func (uc *QueryUseCase) answer(ctx context.Context, query domain.Query, variant domain.VariantConfig) (result pipelineResult, err error) {
	if uc.deps.Embedder != nil {
		embedding, embedErr := uc.deps.Embedder.EmbedQuery(ctx, query.Normalized)
		if embedErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return pipelineResult{}, domain.WrapError(domain.ErrTemporary, "embed query", ctxErr)
			}
			slog.Warn("embed_query_failed", "request_id", query.RequestID, "error", embedErr)
		}
		query.Embedding = embedding
	}

	cache := uc.deps.Cache
	if cache == nil {
		return uc.runPipeline(ctx, query, variant)
	}

	if resp, ok := uc.lookupCache(ctx, query, variant, cache.Lookup); ok {
		return pipelineResult{resp: resp}, nil
	}

	flight, leader := cache.Acquire(query.Normalized, query.Embedding)
	if !leader {
		if shared, ok := flight.Wait(ctx); ok {
			// Shared answers are labeled and recorded under the follower's own variant.
			resp := *shared
			resp.Variant = variant.Name
			return pipelineResult{resp: &resp}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipelineResult{}, domain.WrapError(domain.ErrTemporary, "await in-flight query", ctxErr)
		}
		slog.Info("inflight_wait_abandoned", "request_id", query.RequestID)
		return uc.runPipeline(ctx, query, variant)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			flight.Complete(nil, fmt.Errorf("pipeline panic: %v", recovered))
			panic(recovered)
		}
		flight.Complete(result.resp, err)
	}()

	// A leader that just finished may have stored an answer between our miss and Acquire.
	if resp, ok := uc.lookupCache(ctx, query, variant, cache.Recheck); ok {
		return pipelineResult{resp: resp}, nil
	}

	result, err = uc.runPipeline(ctx, query, variant)
	if err == nil && len(query.Embedding) > 0 {
		if storeErr := cache.Store(ctx, query.Normalized, query.Embedding, result.resp); storeErr != nil {
			slog.Warn("cache_store_failed", "request_id", query.RequestID, "error", storeErr)
		}
	}
	return result, err
}

type cacheLookupFunc func(ctx context.Context, embedding []float32) (domain.CacheEntry, bool, error)

// lookupCache treats every cache failure as a miss.
func (uc *QueryUseCase) lookupCache(ctx context.Context, query domain.Query, variant domain.VariantConfig, lookup cacheLookupFunc) (*domain.QueryResponse, bool) {
	if len(query.Embedding) == 0 {
		return nil, false
	}
	entry, hit, err := lookup(ctx, query.Embedding)
	if err != nil {
		slog.Warn("cache_lookup_failed", "request_id", query.RequestID, "error", err)
		return nil, false
	}
	if !hit {
		return nil, false
	}
	sources := append([]string(nil), entry.Sources...)
	return &domain.QueryResponse{
		Answer:     entry.Answer,
		Sources:    sources,
		Confidence: entry.Confidence,
		FromCache:  true,
		Variant:    variant.Name,
		Outcome:    domain.OutcomeAnswer,
	}, true
}

func (uc *QueryUseCase) runPipeline(ctx context.Context, query domain.Query, variant domain.VariantConfig) (pipelineResult, error) {
	limit := variant.TopK
	if query.Options.TopK > 0 {
		limit = query.Options.TopK
	}
	if limit <= 0 {
		limit = uc.cfg.DefaultTopK
	}
	pool := limit
	if variant.UseRerank && uc.deps.Rerank.TopN() > pool {
		pool = uc.deps.Rerank.TopN()
	}

	retrieved, err := uc.deps.Retriever.Retrieve(ctx, query, pool)
	if err != nil {
		return pipelineResult{}, domain.WrapError(domain.ErrTemporary, "retrieve", err)
	}
	if retrieved.Partial() {
		slog.Info("retrieval_partial",
			"request_id", query.RequestID,
			"lexical_failed", retrieved.LexicalFailed,
			"vector_failed", retrieved.VectorFailed,
			"candidates", len(retrieved.Candidates),
		)
	}
	candidates := retrieved.Candidates
	if len(candidates) == 0 {
		return pipelineResult{}, domain.NewError(domain.ErrNoRelevantContext, "retrieve", "no indexed chunk matched the query")
	}

	if variant.UseRerank {
		candidates = uc.deps.Rerank.Apply(ctx, query.Normalized, candidates)
	}
	candidates = trimCandidates(candidates, limit)

	texts := make([]string, len(candidates))
	sources := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text
		sources[i] = c.Chunk.ID
	}

	useCompression := variant.UseCompression
	if query.Options.UseCompression != nil && !*query.Options.UseCompression {
		useCompression = false
	}
	var compressionRatio *float64
	if useCompression && uc.deps.Compressor != nil {
		var ratio float64
		texts, ratio = compressContext(ctx, uc.deps.Compressor, query.RequestID, query.Normalized, texts)
		compressionRatio = &ratio
		slog.Debug("compression_applied", "request_id", query.RequestID, "ratio", ratio)
	}

	prompt := buildAnswerPrompt(query.Raw, candidates, texts)
	out, err := uc.deps.Generator.Generate(ctx, domain.GenerationRequest{
		Question: query.Raw,
		Context:  strings.Join(texts, "\n\n"),
		Prompt:   prompt,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return pipelineResult{}, domain.WrapError(domain.ErrTemporary, "generate", err)
		}
		return pipelineResult{}, err
	}

	resp := &domain.QueryResponse{
		Answer:     out.Text,
		Sources:    sources,
		Confidence: retrievalConfidence(candidates),
		Variant:    variant.Name,
		Outcome:    domain.OutcomeAnswer,
		Tier:       string(out.Tier),
	}
	result := pipelineResult{resp: resp, compressionRatio: compressionRatio}
	if score, ok := faithfulnessScore(out.Text, texts); ok {
		result.quality = &score
	}
	return result, nil
}

func (uc *QueryUseCase) record(variant string, latency time.Duration, result pipelineResult, err error) {
	if uc.deps.Recorder == nil {
		return
	}
	success := err == nil || domain.IsKind(err, domain.ErrNoRelevantContext)
	cacheHit := result.resp != nil && result.resp.FromCache
	uc.deps.Recorder.Record(domain.RequestOutcome{
		Variant:   variant,
		Latency:   latency,
		Success:   success,
		Quality:   result.quality,
		CacheHit:  cacheHit,
		Timestamp: uc.now(),

		CompressionRatio: result.compressionRatio,
	})
}
