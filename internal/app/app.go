// Package app builds the notebook's services from configuration. The API
// server, the worker and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hirohiro424/sparkling/internal/cache"
	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/draft"
	"github.com/hirohiro424/sparkling/internal/eval"
	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/metrics"
	"github.com/hirohiro424/sparkling/internal/prompt"
	"github.com/hirohiro424/sparkling/internal/run"
	"github.com/hirohiro424/sparkling/internal/store"
)

type App struct {
	Config  *config.Config
	Store   store.Store
	Redis   *redis.Client // nil unless REDIS_ENABLED and reachable
	Gateway llm.Gateway
	Metrics *metrics.Collector
	Prompts *prompt.Service
	Runs    *run.Orchestrator

	recorder *llm.Recorder
}

type options struct {
	gateway []llm.Option
}

type Option func(*options)

// WithGatewayOptions is applied after the providers built from config, so
// tests can swap in a mock provider.
func WithGatewayOptions(opts ...llm.Option) Option {
	return func(o *options) { o.gateway = append(o.gateway, opts...) }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(nil)
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	a.Store = st

	if cfg.LLM.LogPath != "" {
		rec, err := llm.OpenRecorder(cfg.LLM.LogPath, cfg.LLM.LogConsole)
		if err != nil {
			slog.Warn("llm call log disabled", "path", cfg.LLM.LogPath, "error", err)
		} else {
			a.recorder = rec
		}
	}
	gwOpts := append([]llm.Option{llm.WithRecorder(a.recorder), llm.WithMetrics(a.Metrics)}, o.gateway...)
	a.Gateway = llm.NewGateway(cfg.LLM, gwOpts...)

	svcOpts := []prompt.Option{prompt.WithMetrics(a.Metrics)}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, running without cache", "addr", cfg.Redis.Addr, "error", err)
			rdb.Close()
		} else {
			a.Redis = rdb
			svcOpts = append(svcOpts,
				prompt.WithCache(cache.NewVersions(cache.NewCache(rdb), cfg.Redis.CacheTTL)),
				prompt.WithLocker(cache.NewLocker(rdb)),
			)
		}
	}

	reviewer := eval.NewReviewer(a.Gateway, "", "")
	svcOpts = append(svcOpts, prompt.WithReviewer(reviewer))
	if cfg.LLM.Drafter == "architect" {
		svcOpts = append(svcOpts, prompt.WithDrafter(draft.NewArchitect(a.Gateway, "", "")))
	}
	a.Prompts = prompt.NewService(st, svcOpts...)

	a.Runs = run.New(a.Prompts, a.Gateway,
		run.WithTimeout(cfg.Run.Timeout),
		run.WithArtifactDir(cfg.Run.ArtifactDir),
		run.WithReviewer(reviewer),
		run.WithJudge(eval.DefaultSuite(a.Gateway, "", "")),
		run.WithMetrics(a.Metrics),
	)
	return a, nil
}

// Checks are the readiness probes for the configured dependencies.
func (a *App) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{"store": a.Store.Ping}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.recorder.Close())
	return errors.Join(errs...)
}
