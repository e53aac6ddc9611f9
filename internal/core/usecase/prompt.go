package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// buildAnswerPrompt pairs each candidate with its (possibly compressed) text.
func buildAnswerPrompt(question string, candidates []domain.RetrievalCandidate, texts []string) string {
	var contextBuilder strings.Builder
	for idx, candidate := range candidates {
		text := candidate.Chunk.Text
		if idx < len(texts) {
			text = texts[idx]
		}
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] source=%s category=%s score=%.3f\n%s\n\n",
			idx+1,
			candidate.Chunk.Source,
			candidate.Chunk.Category,
			candidate.RelevanceScore(),
			text,
		))
	}

	return fmt.Sprintf(`Answer the user question only from the context below.
Keep numbers, article references and document names exactly as written.
If the context is insufficient, say so directly.

Question:
%s

Context:
%s
`, question, contextBuilder.String())
}
