package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hirohiro424/sparkling/internal/api"
	"github.com/hirohiro424/sparkling/internal/api/handlers"
	"github.com/hirohiro424/sparkling/internal/app"
	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	checks := make(map[string]handlers.Check)
	for name, check := range a.Checks() {
		checks[name] = check
	}

	// Async runs need the worker's redis; without it requests run inline only.
	var enqueuer queue.Enqueuer
	if a.Redis != nil {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		enqueuer = qc
	}

	router := api.NewRouter(api.Deps{
		Prompts:     a.Prompts,
		Runs:        a.Runs,
		Gateway:     a.Gateway,
		Queue:       enqueuer,
		Metrics:     a.Metrics,
		Checks:      checks,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Run.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "store", cfg.Store.Backend, "redis", a.Redis != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
