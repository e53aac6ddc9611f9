package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// DefaultProtectedPatterns keep numbers, legal citation markers, bracketed
// references and upper-case identifiers.
var DefaultProtectedPatterns = []string{
	`\d+(?:[.,:/-]\d+)*`,
	`(?i)\b(?:pasal|ayat|bab|uu|pp|perpres|permen|perda|nomor|no\.)\s*\d+[a-z]?(?:\s+tahun\s+\d{4})?`,
	`\[\d+\]`,
	`\b[A-Z][A-Z0-9]+(?:[-_/][A-Z0-9]+)*\b`,
}

type CompressorConfig struct {
	TargetRatio       float64
	Timeout           time.Duration
	ProtectedPatterns []string
}

// CompressionResult reports whitespace token counts before and after.
type CompressionResult struct {
	Texts        []string
	InputTokens  int
	OutputTokens int
}

func (r CompressionResult) Ratio() float64 {
	if r.InputTokens == 0 {
		return 1
	}
	return float64(r.OutputTokens) / float64(r.InputTokens)
}

// Compressor drops low-importance words while keeping protected spans verbatim.
type Compressor struct {
	ratio     float64
	timeout   time.Duration
	protected []*regexp.Regexp
}

func NewCompressor(cfg CompressorConfig) (*Compressor, error) {
	if cfg.TargetRatio <= 0 || cfg.TargetRatio > 1 {
		cfg.TargetRatio = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	patterns := cfg.ProtectedPatterns
	if len(patterns) == 0 {
		patterns = DefaultProtectedPatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, fmt.Sprintf("compile protected pattern %q", raw), err)
		}
		compiled = append(compiled, re)
	}
	return &Compressor{ratio: cfg.TargetRatio, timeout: cfg.Timeout, protected: compiled}, nil
}

// Compress reduces each text to about the target ratio of its tokens. Any
// error means the caller should use the original texts.
func (c *Compressor) Compress(ctx context.Context, query string, texts []string) (CompressionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	docFreq := make(map[string]int)
	for _, text := range texts {
		for token := range toTokenSet(text) {
			docFreq[token]++
		}
	}
	queryTerms := toTokenSet(query)

	result := CompressionResult{Texts: make([]string, 0, len(texts))}
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return CompressionResult{}, domain.WrapError(domain.ErrCompressionAborted, "compress", err)
		}
		out, inTokens, outTokens, err := c.compressText(ctx, text, queryTerms, docFreq)
		if err != nil {
			return CompressionResult{}, err
		}
		result.Texts = append(result.Texts, out)
		result.InputTokens += inTokens
		result.OutputTokens += outTokens
	}
	return result, nil
}

type textUnit struct {
	start, end int
	tokens     int
	protected  bool
	score      float64
	keep       bool
}

func (c *Compressor) compressText(
	ctx context.Context,
	text string,
	queryTerms map[string]struct{},
	docFreq map[string]int,
) (string, int, int, error) {
	spans := c.protectedSpans(text)
	units := buildUnits(text, spans)
	total := 0
	for _, u := range units {
		total += u.tokens
	}
	if total == 0 {
		return text, 0, 0, nil
	}

	budget := int(math.Round(float64(total) * c.ratio))
	used := 0
	candidates := make([]int, 0, len(units))
	for i := range units {
		if units[i].protected {
			units[i].keep = true
			used += units[i].tokens
			continue
		}
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return "", 0, 0, domain.WrapError(domain.ErrCompressionAborted, "compress", err)
			}
		}
		units[i].score = wordImportance(text[units[i].start:units[i].end], i, len(units), queryTerms, docFreq)
		candidates = append(candidates, i)
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return units[candidates[a]].score > units[candidates[b]].score
	})
	for _, idx := range candidates {
		if used >= budget {
			break
		}
		units[idx].keep = true
		used += units[idx].tokens
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, u := range units {
		if !u.keep {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text[u.start:u.end])
	}
	out := b.String()

	if len(out) > len(text) {
		return "", 0, 0, domain.NewError(domain.ErrCompressionAborted, "compress", "output longer than input")
	}
	for _, span := range spans {
		if !strings.Contains(out, text[span[0]:span[1]]) {
			return "", 0, 0, domain.NewError(domain.ErrCompressionAborted, "compress", "protected span lost")
		}
	}
	return out, total, used, nil
}

// protectedSpans returns merged, sorted [start,end) ranges of pattern matches.
func (c *Compressor) protectedSpans(text string) [][2]int {
	spans := make([][2]int, 0)
	for _, re := range c.protected {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[1] > loc[0] {
				spans = append(spans, [2]int{loc[0], loc[1]})
			}
		}
	}
	if len(spans) == 0 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i][0] != spans[j][0] {
			return spans[i][0] < spans[j][0]
		}
		return spans[i][1] > spans[j][1]
	})
	merged := spans[:1]
	for _, span := range spans[1:] {
		last := &merged[len(merged)-1]
		if span[0] < last[1] {
			if span[1] > last[1] {
				last[1] = span[1]
			}
			continue
		}
		merged = append(merged, span)
	}
	return merged
}

// buildUnits groups whitespace tokens. Tokens overlapping one protected span
// become a single unit covering the original substring.
func buildUnits(text string, spans [][2]int) []textUnit {
	words := make([][2]int, 0, 64)
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, [2]int{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, [2]int{start, len(text)})
	}

	units := make([]textUnit, 0, len(words))
	spanIdx := 0
	for i := 0; i < len(words); i++ {
		w := words[i]
		for spanIdx < len(spans) && spans[spanIdx][1] <= w[0] {
			spanIdx++
		}
		if spanIdx < len(spans) && spans[spanIdx][0] < w[1] {
			u := textUnit{start: w[0], end: w[1], tokens: 1, protected: true}
			for i+1 < len(words) && words[i+1][0] < spans[spanIdx][1] {
				i++
				u.end = words[i][1]
				u.tokens++
			}
			for spanIdx+1 < len(spans) && spans[spanIdx+1][0] < u.end {
				spanIdx++
				for i+1 < len(words) && words[i+1][0] < spans[spanIdx][1] {
					i++
					u.end = words[i][1]
					u.tokens++
				}
			}
			units = append(units, u)
			continue
		}
		units = append(units, textUnit{start: w[0], end: w[1], tokens: 1})
	}
	return units
}

func wordImportance(word string, position, total int, queryTerms map[string]struct{}, docFreq map[string]int) float64 {
	tokens := domain.Tokenize(word)
	if len(tokens) == 0 {
		return 0.05
	}
	score := 0.0
	for _, token := range tokens {
		if _, stop := stopwords[token]; stop {
			score += 0.1
			continue
		}
		weight := 1.0 / (1.0 + math.Log(float64(1+docFreq[token])))
		if _, ok := queryTerms[token]; ok {
			weight += 2.0
		}
		score += weight
	}
	score /= float64(len(tokens))
	if total > 0 && float64(position) < float64(total)*0.2 {
		score += 0.15
	}
	return score
}

// compressContext runs the compressor and falls back to the originals.
func compressContext(ctx context.Context, c *Compressor, requestID, query string, texts []string) ([]string, float64) {
	if c == nil || len(texts) == 0 {
		return texts, 1
	}
	result, err := c.Compress(ctx, query, texts)
	if err != nil {
		slog.Warn("compression_fallback", "request_id", requestID, "error", err)
		return texts, 1
	}
	return result.Texts, result.Ratio()
}
