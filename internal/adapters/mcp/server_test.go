package mcpadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type queryFake struct {
	last domain.QueryRequest
	err  error
}

func (f *queryFake) Ask(_ context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.QueryResponse{RequestID: "req-1", Answer: "Bawa KK asli.", Sources: []string{"kk-1"}, Outcome: domain.OutcomeAnswer}, nil
}

func callAsk(t *testing.T, s *Server, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = askToolName
	req.Params.Arguments = args
	result, err := s.handleAsk(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
		return ""
	}
}

func TestAskDocumentsReturnsResponseJSON(t *testing.T) {
	query := &queryFake{}
	s := NewServer(query, "test")

	result := callAsk(t, s, map[string]any{"query": "syarat kk", "top_k": float64(3), "use_compression": false})
	assert.False(t, result.IsError)

	var resp domain.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.Equal(t, "Bawa KK asli.", resp.Answer)
	assert.Equal(t, []string{"kk-1"}, resp.Sources)

	assert.Equal(t, "syarat kk", query.last.Query)
	assert.Equal(t, 3, query.last.Options.TopK)
	require.NotNil(t, query.last.Options.UseCompression)
	assert.False(t, *query.last.Options.UseCompression)
}

func TestAskDocumentsRequiresQuery(t *testing.T) {
	query := &queryFake{}
	result := callAsk(t, NewServer(query, "test"), map[string]any{})
	assert.True(t, result.IsError)
	assert.Empty(t, query.last.Query)
}

func TestAskDocumentsReportsErrorCode(t *testing.T) {
	query := &queryFake{err: domain.NewError(domain.ErrNoRelevantContext, "retrieve", "nothing matched")}
	result := callAsk(t, NewServer(query, "test"), map[string]any{"query": "syarat ktp"})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no_relevant_context")
}
