package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client searches a collection holding a named dense vector and a named
// sparse term vector per chunk.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

func (c *Client) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	return c.query(ctx, "qdrant.search_dense", queryVector, denseVectorName, limit)
}

func (c *Client) SearchLexical(ctx context.Context, text string, limit int) ([]domain.ScoredChunk, error) {
	sparse := encodeSparse(text)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	return c.query(ctx, "qdrant.search_sparse", sparse, sparseVectorName, limit)
}

type queryPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  struct {
		Dense []float32 `json:"dense"`
	} `json:"vector"`
}

func (c *Client) query(ctx context.Context, operation string, query any, using string, limit int) ([]domain.ScoredChunk, error) {
	reqBody := map[string]any{
		"query":        query,
		"using":        using,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  []string{denseVectorName},
	}

	var points []queryPoint
	call := func(callCtx context.Context) error {
		var err error
		points, err = c.postQuery(callCtx, reqBody)
		return err
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyQdrantError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if !domain.IsKind(err, domain.ErrTemporary) && classifyQdrantError(err).Retryable {
			return nil, domain.WrapError(domain.ErrTemporary, operation, err)
		}
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(points))
	for _, p := range points {
		chunk := domain.DocumentChunk{
			ID:        getStringPayload(p.Payload, "chunk_id"),
			Text:      getStringPayload(p.Payload, "text"),
			Source:    getStringPayload(p.Payload, "source"),
			Category:  getStringPayload(p.Payload, "category"),
			Embedding: p.Vector.Dense,
		}
		if ts := getStringPayload(p.Payload, "created_at"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				chunk.CreatedAt = parsed
			}
		}
		if chunk.ID == "" {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: chunk, Score: p.Score})
	}
	return out, nil
}

type statusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant query status: %s", e.Status)
	}
	return fmt.Sprintf("qdrant query status: %s: %s", e.Status, e.Body)
}

func (c *Client) postQuery(ctx context.Context, reqBody map[string]any) ([]queryPoint, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &statusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(raw))}
	}

	var queryResp struct {
		Result struct {
			Points []queryPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return queryResp.Result.Points, nil
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		retryable := statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
