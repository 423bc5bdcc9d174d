package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hirohiro424/sparkling/internal/models"
)

// Provider abstracts an LLM backend (OpenAI, Anthropic, Ollama, etc.)
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	Name() string
	Models() []string
}

// Gateway routes requests to providers with retry and fallback.
type Gateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	Provider(name string) (Provider, error)
	ListModels() []ModelInfo
	DefaultModel() string
}

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is the input for chat completions.
type ChatRequest struct {
	Provider        string    `json:"provider,omitempty"`
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	Temperature     *float64  `json:"temperature,omitempty"`
	MaxTokens       int       `json:"max_tokens,omitempty"`
	TopP            float64   `json:"top_p,omitempty"`
	Stop            []string  `json:"stop,omitempty"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"` // low, medium, high
	Verbosity       string    `json:"verbosity,omitempty"`
}

// ChatResponse is the output from chat completions.
type ChatResponse struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	FinishReason string  `json:"finish_reason,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
}

// StreamChunk is a single chunk from a streaming response.
type StreamChunk struct {
	Content      string `json:"content,omitempty"`
	Done         bool   `json:"done"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Error        error  `json:"-"`
}

// ModelInfo describes an available model.
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Temp returns a pointer to t, for ChatRequest.Temperature.
func Temp(t float64) *float64 { return &t }

// noTemperaturePrefixes are reasoning model families that reject a sampling
// temperature.
var noTemperaturePrefixes = []string{"gpt-5", "o1", "o3"}

// SupportsTemperature reports whether model accepts a temperature parameter.
func SupportsTemperature(model string) bool {
	for _, p := range noTemperaturePrefixes {
		if strings.HasPrefix(model, p) {
			return false
		}
	}
	return true
}

// Validate checks request fields that no provider could accept.
func (r ChatRequest) Validate() error {
	switch r.ReasoningEffort {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("%w: unsupported reasoning_effort %q (want low, medium or high)", models.ErrValidation, r.ReasoningEffort)
	}
	switch r.Verbosity {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("%w: unsupported verbosity %q", models.ErrValidation, r.Verbosity)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", models.ErrValidation)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", models.ErrValidation)
	}
	return nil
}

// normalize drops parameters the target model does not take.
func (r ChatRequest) normalize() ChatRequest {
	if r.Temperature != nil && !SupportsTemperature(r.Model) {
		r.Temperature = nil
	}
	return r
}
