// Package mcpadapter exposes the query pipeline as an MCP tool.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

const askToolName = "ask_documents"

type Server struct {
	queryUC ports.QueryService
	mcp     *server.MCPServer
}

func NewServer(queryUC ports.QueryService, version string) *Server {
	s := &Server{
		queryUC: queryUC,
		mcp:     server.NewMCPServer("docqa", version, server.WithToolCapabilities(false)),
	}
	s.mcp.AddTool(askTool(), s.handleAsk)
	return s
}

func askTool() mcp.Tool {
	return mcp.NewTool(askToolName,
		mcp.WithDescription("Answer a question about administrative document requirements from the indexed regulations. Returns the answer with the chunk ids it was grounded on."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question, in Indonesian or English")),
		mcp.WithNumber("top_k", mcp.Description("How many context chunks to use, 1 to 50")),
		mcp.WithBoolean("use_compression", mcp.Description("Set to false to disable context compression for this request")),
	)
}

// MCPServer returns the underlying server for stdio or HTTP transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := domain.QueryRequest{Query: query}
	args := request.GetArguments()
	if raw, ok := args["top_k"].(float64); ok {
		req.Options.TopK = int(raw)
	}
	if raw, ok := args["use_compression"].(bool); ok {
		req.Options.UseCompression = &raw
	}

	resp, err := s.queryUC.Ask(ctx, req)
	if err != nil {
		slog.Warn("mcp_tool_failed", "tool", askToolName, "code", domain.ErrorCode(err), "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", domain.ErrorCode(err), err)), nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
