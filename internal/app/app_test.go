package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/run"
)

func testConfig(t *testing.T, backend string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Store: config.StoreConfig{
			Backend:    backend,
			JSONLPath:  filepath.Join(dir, "prompts.jsonl"),
			SQLitePath: filepath.Join(dir, "sparkling.db"),
		},
		LLM: config.LLMConfig{
			DefaultProvider: llm.MockProviderName,
			DefaultModel:    "mock-model",
			LogPath:         filepath.Join(dir, "logs", "llm.jsonl"),
		},
		Run:     config.RunConfig{ArtifactDir: filepath.Join(dir, "runs")},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func TestNew_EndToEnd(t *testing.T) {
	for _, backend := range []string{"jsonl", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			mock := llm.NewMockProvider()
			mock.ResponseText = "done"
			a, err := New(context.Background(), cfg, WithGatewayOptions(llm.WithProvider(mock)))
			require.NoError(t, err)
			defer a.Close()

			ctx := context.Background()
			_, v, err := a.Prompts.Define(ctx, "", "greets users")
			require.NoError(t, err)
			r, err := a.Runs.Execute(ctx, run.Request{PromptID: v.PromptID})
			require.NoError(t, err)
			assert.Equal(t, "done", r.Output)

			logData, err := os.ReadFile(cfg.LLM.LogPath)
			require.NoError(t, err)
			assert.Contains(t, string(logData), `"event":"llm_response"`)

			artifacts, err := filepath.Glob(filepath.Join(cfg.Run.ArtifactDir, "run_*.json"))
			require.NoError(t, err)
			assert.Len(t, artifacts, 1)

			checks := a.Checks()
			require.Contains(t, checks, "store")
			assert.NoError(t, checks["store"](ctx))
			assert.NotContains(t, checks, "redis")
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "mongo")
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown STORE_BACKEND")

	cfg = testConfig(t, "jsonl")
	cfg.LLM.Drafter = "poet"
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown DRAFTER")
}

func TestNew_UnreachableRedisIsOptional(t *testing.T) {
	cfg := testConfig(t, "jsonl")
	cfg.Redis = config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Redis)
}
