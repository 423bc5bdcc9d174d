package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/hirohiro424/sparkling/internal/app"
	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/queue"
	"github.com/hirohiro424/sparkling/internal/queue/workers"
)

const concurrency = 4

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	qc := queue.NewClient(cfg.Redis)
	defer qc.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Logger:      slogAdapter{},
		},
	)

	registry := queue.NewHandlersRegistry()
	workers.NewRunWorker(a.Runs, qc).Register(registry)

	slog.Info("starting worker", "concurrency", concurrency, "tasks", registry.Types())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

// slogAdapter routes asynq's own logs through the default slog logger.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(sprint(args)) }
func (slogAdapter) Info(args ...any)  { slog.Info(sprint(args)) }
func (slogAdapter) Warn(args ...any)  { slog.Warn(sprint(args)) }
func (slogAdapter) Error(args ...any) { slog.Error(sprint(args)) }
func (slogAdapter) Fatal(args ...any) {
	slog.Error(sprint(args))
	os.Exit(1)
}

func sprint(args []any) string { return fmt.Sprint(args...) }
