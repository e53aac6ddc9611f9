package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const regulationText = "Berdasarkan Pasal 63 ayat 1 UU 24 tahun 2013 setiap penduduk yang telah berusia 17 tahun " +
	"atau sudah kawin wajib memiliki KTP-el yang berlaku secara nasional dan biaya pembuatan adalah Rp 0 " +
	"di kantor Dukcapil setempat sesuai ketentuan yang berlaku pada saat ini [3]"

func TestCompressKeepsProtectedSpansAndReducesTokens(t *testing.T) {
	c, err := NewCompressor(CompressorConfig{TargetRatio: 0.7})
	if err != nil {
		t.Fatalf("NewCompressor() error = %v", err)
	}

	result, err := c.Compress(context.Background(), "syarat ktp", []string{regulationText})
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	out := result.Texts[0]
	if len(out) > len(regulationText) {
		t.Fatalf("output longer than input")
	}
	for _, literal := range []string{"Pasal 63", "24 tahun 2013", "17", "KTP-el", "[3]"} {
		if !strings.Contains(out, literal) {
			t.Fatalf("protected literal %q missing from %q", literal, out)
		}
	}
	if result.OutputTokens >= result.InputTokens {
		t.Fatalf("expected fewer tokens, got %d of %d", result.OutputTokens, result.InputTokens)
	}
	if ratio := result.Ratio(); ratio < 0.6 || ratio > 0.8 {
		t.Fatalf("expected ratio near 0.7, got %.2f", ratio)
	}
}

func TestCompressPreservesWordOrder(t *testing.T) {
	c, _ := NewCompressor(CompressorConfig{TargetRatio: 0.5})
	result, err := c.Compress(context.Background(), "paspor", []string{"alpha paspor beta gamma paspor delta"})
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if got := result.Texts[0]; got != "alpha paspor paspor" {
		t.Fatalf("expected query terms and leading word in original order, got %q", got)
	}
}

func TestCompressRejectsInvalidPattern(t *testing.T) {
	_, err := NewCompressor(CompressorConfig{ProtectedPatterns: []string{"("}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCompressContextFallsBackOnAbort(t *testing.T) {
	c, _ := NewCompressor(CompressorConfig{Timeout: time.Nanosecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	texts := []string{regulationText}
	out, ratio := compressContext(ctx, c, "req-1", "ktp", texts)
	if out[0] != regulationText || ratio != 1 {
		t.Fatalf("expected original text on abort, got ratio=%v", ratio)
	}
}

func TestCompressContextWithoutCompressor(t *testing.T) {
	texts := []string{"a b c"}
	out, ratio := compressContext(context.Background(), nil, "req-1", "q", texts)
	if out[0] != "a b c" || ratio != 1 {
		t.Fatalf("expected passthrough")
	}
}

func TestFaithfulnessScore(t *testing.T) {
	score, ok := faithfulnessScore("Bawa KK asli", []string{"Pemohon wajib bawa KK asli dan akta."})
	if !ok || score != 1 {
		t.Fatalf("expected full overlap, got %v %v", score, ok)
	}
	score, ok = faithfulnessScore("Silakan hubungi kantor imigrasi", []string{"Pemohon wajib bawa KK asli."})
	if !ok || score != 0 {
		t.Fatalf("expected no overlap, got %v", score)
	}
	if _, ok := faithfulnessScore("   ", nil); ok {
		t.Fatalf("expected no score for empty answer")
	}
}

func TestRetrievalConfidenceUsesTopThree(t *testing.T) {
	candidates := []domain.RetrievalCandidate{
		{VectorScore: 0.9},
		{LexicalScore: 0.6, VectorScore: 0.3},
		{VectorScore: 1.5},
		{VectorScore: 0},
	}
	got := retrievalConfidence(candidates)
	want := (0.9 + 0.6 + 1.0) / 3
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
