package domain

import "time"

// DocumentChunk is an immutable unit of retrievable text owned by the index.
type DocumentChunk struct {
	ID        string             `json:"id" yaml:"id"`
	Text      string             `json:"text" yaml:"text"`
	Embedding []float32          `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	TermFreq  map[string]float64 `json:"term_freq,omitempty" yaml:"term_freq,omitempty"`
	Source    string             `json:"source" yaml:"source"`
	Category  string             `json:"category" yaml:"category"`
	CreatedAt time.Time          `json:"created_at" yaml:"created_at"`
}

// ScoredChunk is a single hit returned by an index search.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}

// RetrievalCandidate lives for the duration of one request.
type RetrievalCandidate struct {
	Chunk        DocumentChunk `json:"chunk"`
	LexicalScore float64       `json:"lexical_score"`
	VectorScore  float64       `json:"vector_score"`
	FusedScore   float64       `json:"fused_score"`
	RerankScore  float64       `json:"rerank_score"`
	Reranked     bool          `json:"reranked"`
}

// RelevanceScore is the score that determined the candidate's final position.
func (c RetrievalCandidate) RelevanceScore() float64 {
	if c.Reranked {
		return c.RerankScore
	}
	return c.FusedScore
}

// RetrievalResult carries candidates plus signal health for the request.
type RetrievalResult struct {
	Candidates    []RetrievalCandidate
	LexicalFailed bool
	VectorFailed  bool
}

// Partial reports whether one of the retrieval signals was unavailable.
func (r RetrievalResult) Partial() bool {
	return r.LexicalFailed || r.VectorFailed
}
