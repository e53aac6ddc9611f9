// Package memory is an in-process chunk index for small corpora, local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/infrastructure/chunking"
)

type Index struct {
	mu     sync.RWMutex
	chunks []domain.DocumentChunk
	byID   map[string]int
}

func New() *Index {
	return &Index{byID: make(map[string]int)}
}

// Add inserts or replaces chunks by ID and precomputes term frequencies.
func (i *Index) Add(chunks ...domain.DocumentChunk) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, chunk := range chunks {
		if chunk.ID == "" {
			continue
		}
		if len(chunk.TermFreq) == 0 {
			chunk.TermFreq = domain.TermFrequencies(chunk.Text)
		}
		if pos, ok := i.byID[chunk.ID]; ok {
			i.chunks[pos] = chunk
			continue
		}
		i.byID[chunk.ID] = len(i.chunks)
		i.chunks = append(i.chunks, chunk)
	}
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks)
}

func (i *Index) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(queryVector) == 0 {
		return nil, nil
	}

	i.mu.RLock()
	hits := make([]domain.ScoredChunk, 0, len(i.chunks))
	for _, chunk := range i.chunks {
		if len(chunk.Embedding) != len(queryVector) {
			continue
		}
		score := domain.CosineSimilarity(queryVector, chunk.Embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: chunk, Score: score})
	}
	i.mu.RUnlock()

	return topHits(hits, limit), nil
}

// SearchLexical scores chunks by the sum of query term frequencies.
func (i *Index) SearchLexical(ctx context.Context, text string, limit int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := domain.Tokenize(text)
	if len(terms) == 0 {
		return nil, nil
	}

	i.mu.RLock()
	hits := make([]domain.ScoredChunk, 0)
	for _, chunk := range i.chunks {
		var score float64
		for _, term := range terms {
			score += chunk.TermFreq[term]
		}
		if score > 0 {
			hits = append(hits, domain.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	i.mu.RUnlock()

	return topHits(hits, limit), nil
}

func topHits(hits []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Chunk.ID < hits[b].Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

type seedFile struct {
	Chunks    []domain.DocumentChunk `yaml:"chunks"`
	Documents []chunking.Document    `yaml:"documents"`
}

// LoadSeed reads chunks from a YAML file. Entries under "documents" are
// split with the default splitter first. Chunks without an embedding are
// embedded in one batch when embedder is not nil.
func (i *Index) LoadSeed(ctx context.Context, path string, embedder ports.Embedder) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}
	splitter := chunking.NewSplitter(chunking.DefaultChunkSize, chunking.DefaultOverlap)
	for _, doc := range seed.Documents {
		seed.Chunks = append(seed.Chunks, splitter.Chunks(doc)...)
	}

	if embedder != nil {
		var missing []int
		var texts []string
		for idx, chunk := range seed.Chunks {
			if len(chunk.Embedding) == 0 && chunk.Text != "" {
				missing = append(missing, idx)
				texts = append(texts, chunk.Text)
			}
		}
		if len(texts) > 0 {
			vectors, err := embedder.Embed(ctx, texts)
			if err != nil {
				return 0, fmt.Errorf("embed seed chunks: %w", err)
			}
			if len(vectors) != len(texts) {
				return 0, fmt.Errorf("embed seed chunks: got %d vectors for %d texts", len(vectors), len(texts))
			}
			for n, idx := range missing {
				seed.Chunks[idx].Embedding = vectors[n]
			}
		}
	}

	i.Add(seed.Chunks...)
	return len(seed.Chunks), nil
}
