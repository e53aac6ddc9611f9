package chunking

import (
	"strings"
	"testing"
)

func TestSplitKeepsWordsWhole(t *testing.T) {
	s := NewSplitter(12, 0)
	got := s.Split("alpha beta gamma delta epsilon")
	want := []string{"alpha beta", "gamma delta", "epsilon"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Split() = %q, want %q", got, want)
	}
}

func TestSplitOverlapsTrailingWords(t *testing.T) {
	s := NewSplitter(11, 6)
	got := s.Split("aa bb cc dd ee")
	want := []string{"aa bb cc dd", "cc dd ee"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Split() = %q, want %q", got, want)
	}
}

func TestSplitOversizedWord(t *testing.T) {
	s := NewSplitter(4, 0)
	got := s.Split("KTP-elektronik ok")
	if len(got) != 2 || got[0] != "KTP-elektronik" || got[1] != "ok" {
		t.Fatalf("Split() = %q", got)
	}
}

func TestSplitEmpty(t *testing.T) {
	if got := NewSplitter(0, 0).Split("  \n\t"); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}

func TestNewSplitterClampsOverlap(t *testing.T) {
	s := NewSplitter(100, 100)
	if s.Overlap != 25 {
		t.Fatalf("expected overlap 25, got %d", s.Overlap)
	}
	s = NewSplitter(-1, -5)
	if s.ChunkSize != DefaultChunkSize || s.Overlap != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestChunksNumbersPieces(t *testing.T) {
	s := NewSplitter(12, 0)
	chunks := s.Chunks(Document{ID: "kk", Source: "kk.md", Category: "kependudukan", Text: "alpha beta gamma delta"})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ID != "kk-1" || chunks[1].ID != "kk-2" {
		t.Fatalf("unexpected ids: %s %s", chunks[0].ID, chunks[1].ID)
	}
	if chunks[1].Source != "kk.md" || chunks[1].Category != "kependudukan" {
		t.Fatalf("metadata not copied: %+v", chunks[1])
	}
}
