package usecase

import (
	"github.com/kirillkom/docqa/internal/core/domain"
)

// faithfulnessScore is the share of the answer's content tokens that also
// appear in the context handed to the generator.
func faithfulnessScore(answer string, contextTexts []string) (float64, bool) {
	answerTokens := toTokenSet(answer)
	if len(answerTokens) == 0 {
		return 0, false
	}
	contextTokens := make(map[string]struct{})
	for _, text := range contextTexts {
		for _, token := range domain.Tokenize(text) {
			contextTokens[token] = struct{}{}
		}
	}
	return tokenOverlap(answerTokens, contextTokens), true
}

// retrievalConfidence averages the strongest signal of the top candidates.
func retrievalConfidence(candidates []domain.RetrievalCandidate) float64 {
	const top = 3
	if len(candidates) == 0 {
		return 0
	}
	n := len(candidates)
	if n > top {
		n = top
	}
	var sum float64
	for _, c := range candidates[:n] {
		best := c.VectorScore
		if c.LexicalScore > best {
			best = c.LexicalScore
		}
		sum += clamp01(best)
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
