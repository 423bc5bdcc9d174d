package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SPARKLING_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "jsonl", cfg.Store.Backend)
	assert.Equal(t, "data/prompts.jsonl", cfg.Store.JSONLPath)
	assert.Equal(t, "gpt-5", cfg.LLM.DefaultModel)
	assert.Equal(t, 2*time.Second, cfg.LLM.RetryDelay)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, "data/logs/llm.jsonl", cfg.LLM.LogPath)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 100.0, cfg.Server.RateLimit)
	assert.Equal(t, 10*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, "skeleton", cfg.LLM.Drafter)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Lists(t *testing.T) {
	t.Setenv("SPARKLING_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CORS_ORIGINS", " http://a.test, ,http://b.test ")
	t.Setenv("SERVER_RATE_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=sqlite\nSERVER_PORT=9090\nRUN_TIMEOUT=45\n"), 0o600))

	t.Setenv("SPARKLING_ENV_FILE", path)
	t.Setenv("SERVER_PORT", "7070")
	// Keys seeded from the file must not leak into later tests.
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("RUN_TIMEOUT", "")
	os.Unsetenv("STORE_BACKEND")
	os.Unsetenv("RUN_TIMEOUT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Run.Timeout)
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("SPARKLING_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SERVER_PORT", "eighty")

	_, err := Load()
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: "postgres"}}
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.Store.Backend = "mongo"
	assert.ErrorContains(t, cfg.Validate(), "unknown STORE_BACKEND")
}
