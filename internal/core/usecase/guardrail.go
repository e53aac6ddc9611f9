package usecase

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const (
	missingDocumentType = "document_type"
	// examplesPlaceholder in a clarification is replaced with known document types.
	examplesPlaceholder = "{examples}"
)

// GuardrailEvaluator classifies normalized queries. It holds no mutable state.
type GuardrailEvaluator struct {
	domainTerms   map[string]struct{}
	domainPhrases []string
	docTerms      map[string]struct{}
	docPhrases    []string
	ambiguous     []*regexp.Regexp
	clarification string
	refusal       string
	examples      string
}

func NewGuardrailEvaluator(lexicon domain.GuardrailLexicon) *GuardrailEvaluator {
	def := domain.DefaultGuardrailLexicon()
	if len(lexicon.DomainTerms) == 0 {
		lexicon.DomainTerms = def.DomainTerms
	}
	if len(lexicon.DocumentTypes) == 0 {
		lexicon.DocumentTypes = def.DocumentTypes
	}
	if len(lexicon.AmbiguousPatterns) == 0 {
		lexicon.AmbiguousPatterns = def.AmbiguousPatterns
	}
	if strings.TrimSpace(lexicon.Clarification) == "" {
		lexicon.Clarification = def.Clarification
	}
	if strings.TrimSpace(lexicon.Refusal) == "" {
		lexicon.Refusal = def.Refusal
	}

	g := &GuardrailEvaluator{
		domainTerms:   make(map[string]struct{}),
		docTerms:      make(map[string]struct{}),
		clarification: lexicon.Clarification,
		refusal:       lexicon.Refusal,
	}
	g.domainPhrases = splitLexicon(lexicon.DomainTerms, g.domainTerms)
	g.docPhrases = splitLexicon(lexicon.DocumentTypes, g.docTerms)

	for _, raw := range lexicon.AmbiguousPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			slog.Warn("guardrail_pattern_invalid", "pattern", raw, "error", err)
			continue
		}
		g.ambiguous = append(g.ambiguous, re)
	}

	examples := make([]string, 0, 4)
	for _, docType := range lexicon.DocumentTypes {
		if len(examples) == 4 {
			break
		}
		if len(docType) <= 4 {
			docType = strings.ToUpper(docType)
		}
		examples = append(examples, docType)
	}
	g.examples = strings.Join(examples, ", ")
	return g
}

// splitLexicon puts single-token terms into set and returns multi-token phrases.
func splitLexicon(terms []string, set map[string]struct{}) []string {
	phrases := make([]string, 0)
	for _, term := range terms {
		tokens := domain.Tokenize(term)
		switch len(tokens) {
		case 0:
		case 1:
			set[tokens[0]] = struct{}{}
		default:
			phrases = append(phrases, strings.Join(tokens, " "))
		}
	}
	return phrases
}

// Evaluate returns answerable, ambiguous (with a clarification) or out-of-scope (with a refusal).
func (g *GuardrailEvaluator) Evaluate(normalized string) domain.GuardrailResult {
	tokens := domain.Tokenize(normalized)
	joined := " " + strings.Join(tokens, " ") + " "

	hasDocType := containsAny(tokens, g.docTerms) || containsPhrase(joined, g.docPhrases)
	if !hasDocType && g.matchesAmbiguous(normalized) {
		return domain.GuardrailResult{
			Verdict: domain.VerdictAmbiguous,
			Missing: missingDocumentType,
			Message: strings.ReplaceAll(g.clarification, examplesPlaceholder, g.examples),
		}
	}

	if !hasDocType && !containsAny(tokens, g.domainTerms) && !containsPhrase(joined, g.domainPhrases) {
		return domain.GuardrailResult{
			Verdict: domain.VerdictOutOfScope,
			Message: g.refusal,
		}
	}

	return domain.GuardrailResult{Verdict: domain.VerdictAnswerable}
}

func (g *GuardrailEvaluator) matchesAmbiguous(normalized string) bool {
	for _, re := range g.ambiguous {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

func containsAny(tokens []string, set map[string]struct{}) bool {
	for _, token := range tokens {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}

func containsPhrase(joined string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return true
		}
	}
	return false
}
