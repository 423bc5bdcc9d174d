package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Run      RunConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
	RateLimit   float64 // requests per second per client, 0 disables
	RateBurst   int
}

// StoreConfig selects the version store backend.
type StoreConfig struct {
	Backend    string // "jsonl", "sqlite" or "postgres"
	JSONLPath  string
	SQLitePath string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
	CacheTTL time.Duration
}

type LLMConfig struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
	RetryDelay       time.Duration
	LogPath          string
	LogConsole       bool
	// Drafter picks how version 1 is written: "skeleton" (offline) or
	// "architect" (LLM).
	Drafter string
}

type RunConfig struct {
	Timeout     time.Duration
	ArtifactDir string
}

type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from the environment. Values in a .env file in the
// working directory (or the file named by SPARKLING_ENV_FILE) are used for
// keys the environment does not set.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("SPARKLING_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	retryDelay, err := getEnvDuration("LLM_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_RETRY_DELAY: %w", err)
	}

	runTimeout, err := getEnvDuration("RUN_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid RUN_TIMEOUT: %w", err)
	}

	cacheTTL, err := getEnvDuration("REDIS_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_CACHE_TTL: %w", err)
	}

	rateLimit, err := getEnvFloat("SERVER_RATE_LIMIT", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_RATE_LIMIT: %w", err)
	}

	rateBurst, err := getEnvInt("SERVER_RATE_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_RATE_BURST: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
			RateLimit:   rateLimit,
			RateBurst:   rateBurst,
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", "jsonl"),
			JSONLPath:  getEnv("STORE_JSONL_PATH", "data/prompts.jsonl"),
			SQLitePath: getEnv("STORE_SQLITE_PATH", "data/sparkling.db"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			CacheTTL: cacheTTL,
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-5"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
			RetryDelay:       retryDelay,
			LogPath:          getEnv("LLM_LOG_PATH", "data/logs/llm.jsonl"),
			LogConsole:       getEnvBool("LLM_LOG_CONSOLE", false),
			Drafter:          getEnv("DRAFTER", "skeleton"),
		},
		Run: RunConfig{
			Timeout:     runTimeout,
			ArtifactDir: getEnv("RUN_ARTIFACT_DIR", "data/runs"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	switch c.Store.Backend {
	case "jsonl":
		if c.Store.JSONLPath == "" {
			missing = append(missing, "STORE_JSONL_PATH")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			missing = append(missing, "STORE_SQLITE_PATH")
		}
	case "postgres":
		if c.Database.URL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want jsonl, sqlite or postgres)", c.Store.Backend)
	}
	switch c.LLM.Drafter {
	case "", "skeleton", "architect":
	default:
		return fmt.Errorf("unknown DRAFTER %q (want skeleton or architect)", c.LLM.Drafter)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

// loadDotEnv copies keys from a dotenv file into the process environment
// without overriding variables that are already set.
func loadDotEnv(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

// getEnvList splits a comma-separated value, dropping blank items.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
