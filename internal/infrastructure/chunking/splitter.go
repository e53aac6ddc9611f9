// Package chunking cuts long regulation texts into overlapping, word-aligned
// chunks for indexing.
package chunking

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const (
	DefaultChunkSize = 900
	DefaultOverlap   = 120
)

// Splitter measures ChunkSize and Overlap in runes.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split never cuts inside a word. A single word longer than ChunkSize
// becomes its own chunk.
func (s *Splitter) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(words) {
		end, size := start, 0
		for end < len(words) {
			n := utf8.RuneCountInString(words[end])
			if size > 0 {
				n++
			}
			if size+n > s.ChunkSize && end > start {
				break
			}
			size += n
			end++
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}

		// Step back over the trailing words that fit into the overlap.
		next, tail := end, 0
		for next-1 > start {
			n := utf8.RuneCountInString(words[next-1]) + 1
			if tail+n > s.Overlap {
				break
			}
			tail += n
			next--
		}
		start = next
	}
	return out
}

// Document is a whole source text before it is split.
type Document struct {
	ID       string `yaml:"id"`
	Source   string `yaml:"source"`
	Category string `yaml:"category"`
	Text     string `yaml:"text"`
}

// Chunks splits doc and numbers the pieces "<id>-<n>" starting at 1.
func (s *Splitter) Chunks(doc Document) []domain.DocumentChunk {
	parts := s.Split(doc.Text)
	out := make([]domain.DocumentChunk, 0, len(parts))
	for n, part := range parts {
		out = append(out, domain.DocumentChunk{
			ID:       fmt.Sprintf("%s-%d", doc.ID, n+1),
			Text:     part,
			Source:   doc.Source,
			Category: doc.Category,
		})
	}
	return out
}
