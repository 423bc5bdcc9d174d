package llm

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Recorder appends one JSON line per LLM request, response and error. The
// request line carries model parameters and message sizes, never API keys.
// A nil *Recorder records nothing.
type Recorder struct {
	log     *slog.Logger
	console *slog.Logger
	closer  io.Closer
}

// OpenRecorder appends to the JSON-lines file at path. When console is true a
// short summary of each call is also written to stderr.
func OpenRecorder(path string, console bool) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open llm log: %w", err)
	}
	r := NewRecorder(f, nil)
	r.closer = f
	if console {
		r.console = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return r, nil
}

// NewRecorder writes JSON lines to w and, when console is non-nil, summaries
// to console.
func NewRecorder(w io.Writer, console io.Writer) *Recorder {
	r := &Recorder{log: slog.New(slog.NewJSONHandler(w, nil))}
	if console != nil {
		r.console = slog.New(slog.NewTextHandler(console, nil))
	}
	return r
}

func (r *Recorder) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Recorder) Request(provider string, attempt int, req ChatRequest) {
	if r == nil {
		return
	}
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	attrs := []any{
		"event", "llm_request",
		"provider", provider,
		"attempt", attempt,
		"model", req.Model,
		"max_tokens", req.MaxTokens,
		"messages", len(req.Messages),
		"input_chars", chars,
	}
	if req.Temperature != nil {
		attrs = append(attrs, "temperature", *req.Temperature)
	}
	if req.ReasoningEffort != "" {
		attrs = append(attrs, "reasoning_effort", req.ReasoningEffort)
	}
	if req.Verbosity != "" {
		attrs = append(attrs, "verbosity", req.Verbosity)
	}
	r.log.Info("llm_request", attrs...)
	if r.console != nil {
		r.console.Info(">>> llm request", "provider", provider, "model", req.Model, "max_tokens", req.MaxTokens, "reasoning", req.ReasoningEffort)
	}
}

func (r *Recorder) Response(provider string, resp *ChatResponse) {
	if r == nil {
		return
	}
	r.log.Info("llm_response",
		"event", "llm_response",
		"provider", provider,
		"id", resp.ID,
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"total_tokens", resp.TotalTokens,
		"cost_usd", resp.CostUSD,
		"latency_ms", resp.LatencyMs,
		"text_len", len(resp.Content),
	)
	if r.console != nil {
		r.console.Info(">>> llm response", "provider", provider, "tokens", resp.TotalTokens, "finish_reason", resp.FinishReason, "text_len", len(resp.Content))
	}
}

func (r *Recorder) Error(provider string, attempt int, err error) {
	if r == nil {
		return
	}
	r.log.Error("llm_error", "event", "llm_error", "provider", provider, "attempt", attempt, "error", err.Error())
	if r.console != nil {
		r.console.Error(">>> llm error", "provider", provider, "attempt", attempt, "error", err)
	}
}
