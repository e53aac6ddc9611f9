// Package openaicompat drives the hosted generation tiers through any
// OpenAI-compatible chat completion endpoint.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

type Generator struct {
	client *openai.Client
	cfg    Config
}

func NewGenerator(cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "openaicompat.new", "model is required")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Self-hosted gateways accept any bearer value.
		apiKey = "unused"
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		clientCfg.BaseURL = base
	}
	return &Generator{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (g *Generator) Model() string {
	return g.cfg.Model
}

func (g *Generator) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	req := openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.GenerationResult{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("openai-compatible completion returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}
	return domain.GenerationResult{
		Text:           strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:          model,
		QuotaRemaining: quotaFraction(resp.GetRateLimitHeaders()),
	}, nil
}

// quotaFraction turns request rate-limit headers into a remaining fraction,
// or -1 when the provider sent none.
func quotaFraction(h openai.RateLimitHeaders) float64 {
	if h.LimitRequests <= 0 {
		return -1
	}
	remaining := float64(h.RemainingRequests) / float64(h.LimitRequests)
	if remaining < 0 {
		return 0
	}
	if remaining > 1 {
		return 1
	}
	return remaining
}

func classifyError(err error) error {
	const op = "openaicompat.generate"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, op, err)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 || status == 0:
		return domain.WrapError(domain.ErrTemporary, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
