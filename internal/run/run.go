// Package run executes prompt versions against the LLM gateway and scores
// the results.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/eval"
	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/metrics"
	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/prompt"
	"github.com/hirohiro424/sparkling/pkg/tokenizer"
)

// Request selects a version by VersionID, or by PromptID plus Version (0 for
// the latest).
type Request struct {
	PromptID        uuid.UUID `json:"prompt_id,omitempty"`
	VersionID       uuid.UUID `json:"prompt_version_id,omitempty"`
	Version         int       `json:"version,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	Model           string    `json:"model,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
	MaxTokens       int       `json:"max_tokens,omitempty"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
	Input           string    `json:"input,omitempty"`
}

type runParams struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
}

type Orchestrator struct {
	prompts     *prompt.Service
	gateway     llm.Gateway
	reviewer    *eval.Reviewer
	judge       *eval.EvalSuite
	metrics     *metrics.Collector
	timeout     time.Duration
	artifactDir string
}

type Option func(*Orchestrator)

// WithTimeout bounds each LLM call. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

// WithArtifactDir writes a JSON copy of every run into dir.
func WithArtifactDir(dir string) Option { return func(o *Orchestrator) { o.artifactDir = dir } }

func WithReviewer(r *eval.Reviewer) Option { return func(o *Orchestrator) { o.reviewer = r } }

func WithJudge(s *eval.EvalSuite) Option { return func(o *Orchestrator) { o.judge = s } }

func WithMetrics(m *metrics.Collector) Option { return func(o *Orchestrator) { o.metrics = m } }

func New(prompts *prompt.Service, gw llm.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{prompts: prompts, gateway: gw}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) (*models.Version, error) {
	if req.VersionID != uuid.Nil {
		return o.prompts.Store().GetVersionByID(ctx, req.VersionID)
	}
	if req.PromptID == uuid.Nil {
		return nil, fmt.Errorf("%w: prompt_id or prompt_version_id is required", models.ErrValidation)
	}
	return o.prompts.At(ctx, req.PromptID, req.Version)
}

// Messages builds the exchange for one run: the version text as system
// instructions, followed by the input as the user turn when it is not blank.
func Messages(content, input string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: content}}
	if strings.TrimSpace(input) != "" {
		msgs = append(msgs, llm.Message{Role: "user", Content: input})
	}
	return msgs
}

// Execute runs a version and persists the result: the output is attached to
// the version, then a Run is stored. Nothing is persisted when the LLM call
// fails.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*models.Run, error) {
	v, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = o.gateway.DefaultModel()
	}
	start := time.Now()
	resp, err := o.gateway.Chat(callCtx, llm.ChatRequest{
		Provider:        req.Provider,
		Model:           model,
		Messages:        Messages(v.Content, req.Input),
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	})
	latency := time.Since(start)
	if err != nil {
		o.metrics.RunFinished(model, "error", latency)
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: run prompt %s v%d: %w", models.ErrUpstream, v.PromptID, v.Version, err)
	}

	params, _ := json.Marshal(runParams{
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	})
	r := &models.Run{
		PromptID:     v.PromptID,
		VersionID:    v.ID,
		Version:      v.Version,
		Provider:     resp.Provider,
		Model:        model,
		Params:       params,
		Input:        req.Input,
		Output:       resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TotalTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    latency.Milliseconds(),
	}
	if r.TotalTokens == 0 {
		r.InputTokens = tokenizer.CountMessages(v.Content, req.Input)
		r.OutputTokens = tokenizer.CountTokens(resp.Content)
		r.TotalTokens = r.InputTokens + r.OutputTokens
	}
	if err := o.prompts.Store().CreateRun(ctx, r); err != nil {
		return nil, err
	}
	// The version's output is copied only after the run is stored.
	if err := o.prompts.SetOutput(ctx, v, resp.Content); err != nil {
		return nil, err
	}
	o.metrics.RunFinished(model, "ok", latency)
	slog.Info("run finished",
		"run_id", r.ID,
		"prompt_id", r.PromptID,
		"version", r.Version,
		"model", model,
		"latency_ms", r.LatencyMs,
		"tokens", r.TotalTokens,
	)

	if o.artifactDir != "" {
		if _, err := SaveArtifact(o.artifactDir, r); err != nil {
			slog.Warn("run artifact not written", "run_id", r.ID, "error", err)
		}
	}
	return r, nil
}

func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return o.prompts.Store().GetRun(ctx, id)
}

// SaveArtifact writes r as indented JSON to dir/run_<id>_<unix>.json and
// returns the path.
func SaveArtifact(dir string, r *models.Run) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run_%s_%d.json", r.ID, time.Now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write run artifact: %w", err)
	}
	return path, nil
}
