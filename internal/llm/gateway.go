package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/metrics"
	"github.com/hirohiro424/sparkling/internal/models"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	defaultModel     string
	fallbackProvider string
	maxRetries       int
	retryDelay       time.Duration
	recorder         *Recorder
	metrics          *metrics.Collector
}

type Option func(*gateway)

// WithProvider registers p under p.Name(), replacing any provider built from
// config with the same name.
func WithProvider(p Provider) Option {
	return func(g *gateway) { g.providers[p.Name()] = p }
}

func WithRecorder(r *Recorder) Option {
	return func(g *gateway) { g.recorder = r }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(g *gateway) { g.metrics = m }
}

func NewGateway(cfg config.LLMConfig, opts ...Option) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  cfg.DefaultProvider,
		defaultModel:     cfg.DefaultModel,
		fallbackProvider: cfg.FallbackProvider,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       cfg.RetryDelay,
	}

	if cfg.OpenAIKey != "" {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL)
		g.providers[ResponsesProviderName] = NewResponsesProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	}
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}
	g.providers[MockProviderName] = NewMockProvider()

	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gateway) DefaultModel() string { return g.defaultModel }

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not configured", models.ErrValidation, name)
	}
	return p, nil
}

func (g *gateway) prepare(req ChatRequest) (string, ChatRequest, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}
	if req.Model == "" {
		req.Model = g.defaultModel
	}
	if err := req.Validate(); err != nil {
		return "", req, err
	}
	return providerName, req.normalize(), nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName, req, err := g.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && !errors.Is(err, models.ErrValidation) && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

// chatWithRetry makes up to maxRetries+1 attempts with a fixed delay between
// them. Validation errors are not retried.
func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			g.recorder.Request(providerName, attempt, req)
			r, err := p.ChatCompletion(ctx, req)
			if err != nil {
				g.recorder.Error(providerName, attempt, err)
				g.metrics.LLMCall(providerName, "error", 0, 0)
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.maxRetries)+1),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, models.ErrValidation) }),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", n+2, "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", models.ErrUpstream, providerName, attempt, err)
	}

	if resp.Provider == "" {
		resp.Provider = providerName
	}
	if resp.CostUSD == 0 {
		resp.CostUSD = CalculateCost(req.Model, resp.InputTokens, resp.OutputTokens)
	}
	g.recorder.Response(providerName, resp)
	g.metrics.LLMCall(providerName, "success", resp.InputTokens, resp.OutputTokens)
	return resp, nil
}

func (g *gateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	providerName, req, err := g.prepare(req)
	if err != nil {
		return nil, err
	}

	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	g.recorder.Request(providerName, 1, req)
	ch, err := p.ChatCompletionStream(ctx, req)
	if err != nil {
		g.recorder.Error(providerName, 1, err)
		g.metrics.LLMCall(providerName, "error", 0, 0)
		return nil, fmt.Errorf("%w: %s stream: %w", models.ErrUpstream, providerName, err)
	}
	return ch, nil
}

func (g *gateway) ListModels() []ModelInfo {
	var out []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			out = append(out, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}
