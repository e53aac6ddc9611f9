package domain

import (
	"strings"
	"unicode"
)

const DefaultMaxQueryLength = 2000

type QueryOptions struct {
	TopK           int   `json:"topK,omitempty"`
	UseCompression *bool `json:"useCompression,omitempty"`
}

// QueryRequest is the external shape of a question.
type QueryRequest struct {
	RequestID string       `json:"-"`
	Query     string       `json:"query"`
	Options   QueryOptions `json:"options"`
}

// Query is the per-request working state built from a QueryRequest.
type Query struct {
	RequestID  string
	Raw        string
	Normalized string
	Embedding  []float32
	Options    QueryOptions
}

type Outcome string

const (
	OutcomeAnswer        Outcome = "answer"
	OutcomeClarification Outcome = "clarification"
	OutcomeRefusal       Outcome = "refusal"
)

type QueryResponse struct {
	RequestID  string   `json:"requestId"`
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	LatencyMs  int64    `json:"latencyMs"`
	FromCache  bool     `json:"fromCache"`
	Variant    string   `json:"variant"`
	Outcome    Outcome  `json:"outcome"`
	Tier       string   `json:"tier,omitempty"`
}

// NormalizeQuery lowercases, trims and collapses whitespace. Trailing
// punctuation is dropped so "KTP?" and "ktp" share one cache key.
func NormalizeQuery(raw string) string {
	fields := strings.Fields(strings.ToLower(raw))
	out := strings.Join(fields, " ")
	return strings.TrimRightFunc(out, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Tokenize splits text into lowercase letter/digit runs.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// TermFrequencies builds the lexical frequency table for a text.
func TermFrequencies(text string) map[string]float64 {
	tokens := Tokenize(text)
	out := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		out[token]++
	}
	return out
}
