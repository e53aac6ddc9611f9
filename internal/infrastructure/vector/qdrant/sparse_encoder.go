package qdrant

import (
	"hash/fnv"
	"sort"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// sparseVector is the Qdrant wire form of a term vector. Indices must be
// strictly ascending.
type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	// bm25K saturates repeated terms the same way the indexer does.
	bm25K          = 1.2
	maxSparseTerms = 256
)

// encodeSparse hashes domain tokens so the lexical signal sees the same terms
// as the in-memory index. Over maxSparseTerms, the most frequent terms win.
func encodeSparse(text string) sparseVector {
	weights := make(map[uint32]float64)
	for term, freq := range domain.TermFrequencies(text) {
		weights[termIndex(term)] += freq
	}
	if len(weights) == 0 {
		return sparseVector{}
	}

	indices := make([]uint32, 0, len(weights))
	for idx := range weights {
		indices = append(indices, idx)
	}
	if len(indices) > maxSparseTerms {
		sort.Slice(indices, func(i, j int) bool {
			if weights[indices[i]] != weights[indices[j]] {
				return weights[indices[i]] > weights[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:maxSparseTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		tf := weights[idx]
		values[i] = float32(tf * (bm25K + 1) / (tf + bm25K))
	}
	return sparseVector{Indices: indices, Values: values}
}

// termIndex is FNV-1a with zero remapped, since Qdrant treats index 0 like
// any other but the indexer reserves it.
func termIndex(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}
