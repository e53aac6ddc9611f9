// Package crossencoder calls an external cross-encoder scoring service.
//
// Request:  {"query": "...", "candidates": [{"id": "...", "text": "..."}], "top_n": n}
// Response: {"ranking": [{"id": "...", "score": 0.93}]}
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type Client struct {
	endpoint   string
	httpClient *http.Client
}

func New(endpoint string) *Client {
	return &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type rerankReq struct {
	Query      string            `json:"query"`
	Candidates []rerankCandidate `json:"candidates"`
	TopN       int               `json:"top_n,omitempty"`
}

type rerankCandidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankResp struct {
	Ranking []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"ranking"`
}

// Rerank returns every input candidate with RerankScore filled in.
// Candidates the service did not score sort after all scored ones.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	req := rerankReq{Query: query, TopN: len(candidates)}
	for _, cand := range candidates {
		req.Candidates = append(req.Candidates, rerankCandidate{ID: cand.Chunk.ID, Text: cand.Chunk.Text})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "crossencoder.rerank", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("rerank status: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var rr rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(rr.Ranking) == 0 {
		return nil, fmt.Errorf("rerank response has no ranking")
	}

	scores := make(map[string]float64, len(rr.Ranking))
	minScore := rr.Ranking[0].Score
	for _, r := range rr.Ranking {
		scores[r.ID] = r.Score
		if r.Score < minScore {
			minScore = r.Score
		}
	}

	out := make([]domain.RetrievalCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		if score, ok := scores[out[i].Chunk.ID]; ok {
			out[i].RerankScore = score
			out[i].Reranked = true
			continue
		}
		out[i].RerankScore = minScore - 1
	}
	return out, nil
}
