package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

// HeuristicReranker scores candidates by normalized fused score, query token
// overlap and a source-name hit. It never fails.
type HeuristicReranker struct{}

func (HeuristicReranker) Rerank(_ context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	out := make([]domain.RetrievalCandidate, len(candidates))
	copy(out, candidates)
	queryTokens := toTokenSet(query)

	minScore := out[0].FusedScore
	maxScore := out[0].FusedScore
	for _, c := range out[1:] {
		if c.FusedScore < minScore {
			minScore = c.FusedScore
		}
		if c.FusedScore > maxScore {
			maxScore = c.FusedScore
		}
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	for i := range out {
		overlap := tokenOverlap(queryTokens, toTokenSet(out[i].Chunk.Text))
		sourceBoost := sourceTokenHit(queryTokens, out[i].Chunk.Source)
		out[i].RerankScore = 0.60*normalize(out[i].FusedScore) + 0.30*overlap + 0.10*sourceBoost
		out[i].Reranked = true
	}
	return out, nil
}

// RerankStage applies a reranker to the head of the fused list and falls back
// to fused order when the reranker errors or runs out of time.
type RerankStage struct {
	reranker ports.Reranker
	topN     int
	timeout  time.Duration
}

func NewRerankStage(reranker ports.Reranker, topN int, timeout time.Duration) *RerankStage {
	if reranker == nil {
		reranker = HeuristicReranker{}
	}
	if topN <= 0 {
		topN = 20
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RerankStage{reranker: reranker, topN: topN, timeout: timeout}
}

// TopN is how many fused candidates the stage wants to see.
func (s *RerankStage) TopN() int {
	return s.topN
}

func (s *RerankStage) Apply(ctx context.Context, query string, fused []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	if len(fused) <= 1 {
		return fused
	}
	topN := s.topN
	if topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.RetrievalCandidate, topN)
	copy(head, fused[:topN])

	rerankCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reranked, err := s.reranker.Rerank(rerankCtx, query, head)
	if err == nil && len(reranked) != len(head) {
		err = errRerankShape
	}
	if err != nil {
		slog.Warn("rerank_fallback", "error", err, "candidates", len(head))
		return fused
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		if reranked[i].RerankScore != reranked[j].RerankScore {
			return reranked[i].RerankScore > reranked[j].RerankScore
		}
		if reranked[i].FusedScore != reranked[j].FusedScore {
			return reranked[i].FusedScore > reranked[j].FusedScore
		}
		return reranked[i].Chunk.ID < reranked[j].Chunk.ID
	})

	if topN == len(fused) {
		return reranked
	}
	out := make([]domain.RetrievalCandidate, 0, len(fused))
	out = append(out, reranked...)
	out = append(out, fused[topN:]...)
	return out
}

var errRerankShape = domain.NewError(domain.ErrTemporary, "rerank", "reranker changed candidate count")

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sourceTokenHit(query map[string]struct{}, source string) float64 {
	if len(query) == 0 || source == "" {
		return 0
	}
	source = strings.ToLower(source)
	for token := range query {
		if len(token) < 3 {
			continue
		}
		if strings.Contains(source, token) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := domain.Tokenize(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, stop := stopwords[token]; stop {
			continue
		}
		out[token] = struct{}{}
	}
	return out
}
