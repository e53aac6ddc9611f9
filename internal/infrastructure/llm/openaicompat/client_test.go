package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func TestGenerateReportsQuotaFromRateLimitHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "gpt-test", payload["model"])

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-ratelimit-limit-requests", "200")
		w.Header().Set("x-ratelimit-remaining-requests", "10")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test-0601","choices":[{"index":0,"message":{"role":"assistant","content":" Bawa KTP asli. "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(Config{BaseURL: server.URL, APIKey: "secret", Model: "gpt-test"})
	require.NoError(t, err)

	result, err := gen.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Bawa KTP asli.", result.Text)
	assert.Equal(t, "gpt-test-0601", result.Model)
	assert.InDelta(t, 0.05, result.QuotaRemaining, 1e-9)
}

func TestGenerateWithoutHeadersReportsUnknownQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(Config{BaseURL: server.URL + "/v1", Model: "m"})
	require.NoError(t, err)

	result, err := gen.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, float64(-1), result.QuotaRemaining)
	assert.Equal(t, "m", result.Model)
}

func TestGenerateMapsRateLimitToTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(Config{BaseURL: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary), "got %v", err)
}

func TestGenerateMapsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(Config{BaseURL: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "prompt")
	assert.True(t, domain.IsKind(err, domain.ErrUnauthorized), "got %v", err)
}

func TestNewGeneratorRequiresModel(t *testing.T) {
	_, err := NewGenerator(Config{BaseURL: "http://localhost"})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}
