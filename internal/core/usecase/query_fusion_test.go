package usecase

import (
	"testing"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func fusionQuery(text string, embedding []float32) domain.Query {
	return domain.Query{Normalized: domain.NormalizeQuery(text), Embedding: embedding}
}

func TestFuseCandidatesRRFDeduplicatesByChunkID(t *testing.T) {
	a := domain.DocumentChunk{ID: "a", Text: "syarat paspor", Embedding: []float32{0, 1}}
	b := domain.DocumentChunk{ID: "b", Text: "syarat ktp elektronik", Embedding: []float32{1, 0}}
	c := domain.DocumentChunk{ID: "c", Text: "ktp hilang", Embedding: []float32{0.7, 0.7}}

	lexical := []domain.ScoredChunk{{Chunk: b, Score: 2}, {Chunk: c, Score: 1}}
	semantic := []domain.ScoredChunk{{Chunk: b, Score: 0.9}, {Chunk: a, Score: 0.1}}

	fused := fuseCandidatesRRF(fusionQuery("syarat ktp", []float32{1, 0}), lexical, semantic, 60)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}
	if fused[0].Chunk.ID != "b" {
		t.Fatalf("expected b first after fusion, got %s", fused[0].Chunk.ID)
	}
	if fused[0].VectorScore < 0.999 || fused[0].LexicalScore <= 0 {
		t.Fatalf("expected both signals recomputed, got %+v", fused[0])
	}
}

func TestFuseCandidatesRRFIsDeterministic(t *testing.T) {
	chunks := []domain.DocumentChunk{
		{ID: "d", Text: "ktp"},
		{ID: "b", Text: "ktp"},
		{ID: "c", Text: "ktp"},
		{ID: "a", Text: "ktp"},
	}
	hits := make([]domain.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		hits = append(hits, domain.ScoredChunk{Chunk: chunk, Score: 1})
	}
	reversed := make([]domain.ScoredChunk, len(hits))
	for i := range hits {
		reversed[len(hits)-1-i] = hits[i]
	}

	q := fusionQuery("ktp", nil)
	first := fuseCandidatesRRF(q, hits, nil, 60)
	second := fuseCandidatesRRF(q, reversed, nil, 60)
	want := []string{"a", "b", "c", "d"}
	for i, id := range want {
		if first[i].Chunk.ID != id || second[i].Chunk.ID != id {
			t.Fatalf("expected id order %v, got %s/%s at %d", want, first[i].Chunk.ID, second[i].Chunk.ID, i)
		}
	}
}

func TestFuseCandidatesRRFTieBreaksOnLexicalScore(t *testing.T) {
	strong := domain.DocumentChunk{ID: "z", Text: "syarat ktp"}
	vectorOnly := domain.DocumentChunk{ID: "a", Text: "kartu identitas", Embedding: []float32{1, 0}}

	// z ranks first lexically, a ranks first on vectors: equal fused scores.
	fused := fuseCandidatesRRF(fusionQuery("syarat ktp", []float32{1, 0}),
		[]domain.ScoredChunk{{Chunk: strong}}, []domain.ScoredChunk{{Chunk: vectorOnly}}, 60)
	if len(fused) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(fused))
	}
	if fused[0].FusedScore != fused[1].FusedScore {
		t.Fatalf("expected equal fused scores, got %v and %v", fused[0].FusedScore, fused[1].FusedScore)
	}
	if fused[0].Chunk.ID != "z" {
		t.Fatalf("expected tie broken by lexical score, got %s first", fused[0].Chunk.ID)
	}
}

func TestFuseCandidatesRRFDropsUnscoredCandidates(t *testing.T) {
	unrelated := domain.DocumentChunk{ID: "x", Text: "jadwal kereta"}
	fused := fuseCandidatesRRF(fusionQuery("syarat ktp", nil), []domain.ScoredChunk{{Chunk: unrelated, Score: 1}}, nil, 60)
	if len(fused) != 0 {
		t.Fatalf("expected candidate without lexical or vector evidence dropped, got %d", len(fused))
	}
}

func TestLexicalScoreIgnoresStopwords(t *testing.T) {
	chunk := domain.DocumentChunk{ID: "a", Text: "ktp ktp ktp"}
	withStop := lexicalScore(uniqueTerms("apa yang ktp"), chunk)
	without := lexicalScore(uniqueTerms("ktp"), chunk)
	if withStop != without {
		t.Fatalf("stopwords must not dilute the score: %v vs %v", withStop, without)
	}
	if without <= 0 || without >= 1 {
		t.Fatalf("expected score within (0,1), got %v", without)
	}
}
