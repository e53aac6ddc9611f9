package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/docqa/internal/adapters/http"
	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(os.Stdout, "api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api")
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	app.Start(runCtx)

	router := httpadapter.NewRouter(cfg, app.QueryUC, httpadapter.AdminDeps{
		Rollout: app.Rollout,
		Tiers:   app.Tiers,
		Cache:   app.Cache,
	}, app.HTTPMetrics)
	server := newServer(cfg, router.Handler())

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("api_server_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	cancelRun()
	app.Close()
	logger.Info("api_stopped")
}

// newServer leaves writes enough room for a query that runs to its timeout.
func newServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.QueryTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
