package cli

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

// Client talks to the docqa HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

type rolloutResponse struct {
	Variants []domain.RolloutState `json:"variants"`
}

type tiersResponse struct {
	Tiers []domain.TierState `json:"tiers"`
}

func (c *Client) Ask(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	var resp domain.QueryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Rollout(ctx context.Context) ([]domain.RolloutState, error) {
	var resp rolloutResponse
	if err := c.do(ctx, http.MethodGet, "/v1/admin/rollout", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Variants, nil
}

func (c *Client) Disable(ctx context.Context, variant, reason string) ([]domain.RolloutState, error) {
	var resp rolloutResponse
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/rollout/"+variant+"/disable", body, &resp); err != nil {
		return nil, err
	}
	return resp.Variants, nil
}

func (c *Client) SetTraffic(ctx context.Context, percent int) ([]domain.RolloutState, error) {
	var resp rolloutResponse
	if err := c.do(ctx, http.MethodPut, "/v1/admin/rollout/traffic", map[string]int{"percent": percent}, &resp); err != nil {
		return nil, err
	}
	return resp.Variants, nil
}

func (c *Client) Tiers(ctx context.Context) ([]domain.TierState, error) {
	var resp tiersResponse
	if err := c.do(ctx, http.MethodGet, "/v1/admin/tiers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tiers, nil
}

func (c *Client) Cache(ctx context.Context) (domain.CacheStats, error) {
	var resp domain.CacheStats
	err := c.do(ctx, http.MethodGet, "/v1/admin/cache", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			RequestID string `json:"requestId"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Code = payload.Code
			apiErr.RequestID = payload.RequestID
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
