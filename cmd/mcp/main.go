package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/docqa/internal/adapters/mcp"
	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/observability/logging"
)

var version = "dev"

func main() {
	transport := flag.String("transport", "stdio", "stdio or http")
	flag.Parse()

	cfg := config.Load()
	// stdout belongs to the protocol in stdio mode.
	logger := logging.Setup(os.Stderr, "mcp", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "mcp")
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	app.Start(runCtx)
	defer func() {
		cancelRun()
		app.Close()
	}()

	mcpServer := mcpadapter.NewServer(app.QueryUC, version).MCPServer()

	switch *transport {
	case "stdio":
		logger.Info("mcp_serving", "transport", "stdio")
		if err := server.ServeStdio(mcpServer); err != nil {
			logger.Error("mcp_server_failed", "error", err)
		}
	case "http":
		serveHTTP(ctx, logger, mcpServer, cfg.MCPPort)
	default:
		logger.Error("unknown_transport", "transport", *transport)
	}
}

func serveHTTP(ctx context.Context, logger *slog.Logger, mcpServer *server.MCPServer, port string) {
	httpServer := server.NewStreamableHTTPServer(mcpServer)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp_serving", "transport", "http", "addr", ":"+port)
		if err := httpServer.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("mcp_server_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("mcp_shutdown_failed", "error", err)
	}
}
