package usecase

import (
	"sort"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const (
	defaultRRFK = 60
	lexicalK1   = 1.2
)

// fuseCandidatesRRF merges lexical and vector hits into one deterministic list.
//
// Both scores are recomputed per chunk: lexical is a saturated term-frequency
// score over the chunk's frequency table, vector is cosine similarity against
// the chunk embedding. Each signal ranks the union independently and the fused
// score is sum(1 / (rrfK + rank + 1)). Ties break on higher lexical score, then
// lower chunk id.
func fuseCandidatesRRF(query domain.Query, lexical, semantic []domain.ScoredChunk, rrfK int) []domain.RetrievalCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]*domain.RetrievalCandidate, len(lexical)+len(semantic))
	hasVector := make(map[string]bool, len(semantic))
	add := func(hits []domain.ScoredChunk, fromVector bool) {
		for _, hit := range hits {
			id := hit.Chunk.ID
			if id == "" {
				continue
			}
			candidate, ok := acc[id]
			if !ok {
				candidate = &domain.RetrievalCandidate{Chunk: hit.Chunk}
				acc[id] = candidate
			} else {
				candidate.Chunk = preferRicherChunk(candidate.Chunk, hit.Chunk)
			}
			if fromVector {
				hasVector[id] = true
				candidate.VectorScore = hit.Score
			}
		}
	}
	add(lexical, false)
	add(semantic, true)

	terms := uniqueTerms(query.Normalized)
	all := make([]*domain.RetrievalCandidate, 0, len(acc))
	for id, candidate := range acc {
		candidate.LexicalScore = lexicalScore(terms, candidate.Chunk)
		if len(query.Embedding) > 0 && len(candidate.Chunk.Embedding) == len(query.Embedding) {
			candidate.VectorScore = domain.CosineSimilarity(query.Embedding, candidate.Chunk.Embedding)
			hasVector[id] = true
		}
		all = append(all, candidate)
	}

	lexRanked := make([]*domain.RetrievalCandidate, 0, len(all))
	vecRanked := make([]*domain.RetrievalCandidate, 0, len(all))
	for _, candidate := range all {
		if candidate.LexicalScore > 0 {
			lexRanked = append(lexRanked, candidate)
		}
		if hasVector[candidate.Chunk.ID] {
			vecRanked = append(vecRanked, candidate)
		}
	}
	sort.Slice(lexRanked, func(i, j int) bool {
		if lexRanked[i].LexicalScore != lexRanked[j].LexicalScore {
			return lexRanked[i].LexicalScore > lexRanked[j].LexicalScore
		}
		return lexRanked[i].Chunk.ID < lexRanked[j].Chunk.ID
	})
	sort.Slice(vecRanked, func(i, j int) bool {
		if vecRanked[i].VectorScore != vecRanked[j].VectorScore {
			return vecRanked[i].VectorScore > vecRanked[j].VectorScore
		}
		return vecRanked[i].Chunk.ID < vecRanked[j].Chunk.ID
	})

	for rank, candidate := range lexRanked {
		candidate.FusedScore += 1.0 / float64(rrfK+rank+1)
	}
	for rank, candidate := range vecRanked {
		candidate.FusedScore += 1.0 / float64(rrfK+rank+1)
	}

	out := make([]domain.RetrievalCandidate, 0, len(all))
	for _, candidate := range all {
		if candidate.FusedScore <= 0 {
			continue
		}
		out = append(out, *candidate)
	}
	sortByFused(out)
	return out
}

func sortByFused(out []domain.RetrievalCandidate) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].LexicalScore != out[j].LexicalScore {
			return out[i].LexicalScore > out[j].LexicalScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
}

// lexicalScore averages (tf*(k+1))/(tf+k) over query terms, scaled into [0,1).
func lexicalScore(terms []string, chunk domain.DocumentChunk) float64 {
	if len(terms) == 0 {
		return 0
	}
	tf := chunk.TermFreq
	if len(tf) == 0 {
		tf = domain.TermFrequencies(chunk.Text)
	}
	if len(tf) == 0 {
		return 0
	}
	var sum float64
	for _, term := range terms {
		f := tf[term]
		if f <= 0 {
			continue
		}
		sum += (f * (lexicalK1 + 1)) / (f + lexicalK1) / (lexicalK1 + 1)
	}
	return sum / float64(len(terms))
}

func uniqueTerms(text string) []string {
	tokens := domain.Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func trimCandidates(candidates []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func preferRicherChunk(current, candidate domain.DocumentChunk) domain.DocumentChunk {
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Source == "" && candidate.Source != "" {
		current.Source = candidate.Source
	}
	if current.Category == "" && candidate.Category != "" {
		current.Category = candidate.Category
	}
	if len(current.Embedding) == 0 && len(candidate.Embedding) > 0 {
		current.Embedding = candidate.Embedding
	}
	if len(current.TermFreq) == 0 && len(candidate.TermFreq) > 0 {
		current.TermFreq = candidate.TermFreq
	}
	if current.CreatedAt.IsZero() {
		current.CreatedAt = candidate.CreatedAt
	}
	return current
}

// stopwords are dropped from lexical scoring and compression importance.
var stopwords = map[string]struct{}{
	"yang": {}, "dan": {}, "di": {}, "ke": {}, "dari": {}, "untuk": {}, "dengan": {}, "atau": {},
	"ini": {}, "itu": {}, "pada": {}, "adalah": {}, "dalam": {}, "apa": {}, "bagaimana": {},
	"saja": {}, "akan": {}, "juga": {}, "oleh": {}, "sebagai": {}, "tersebut": {}, "dapat": {},
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "for": {},
	"is": {}, "are": {}, "what": {}, "how": {}, "do": {}, "i": {}, "on": {}, "with": {}, "be": {},
}
