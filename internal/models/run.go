package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Run struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	PromptID     uuid.UUID       `json:"prompt_id" db:"prompt_id"`
	VersionID    uuid.UUID       `json:"prompt_version_id" db:"version_id"`
	Version      int             `json:"version" db:"version"`
	Provider     string          `json:"provider" db:"provider"`
	Model        string          `json:"model" db:"model"`
	Params       json.RawMessage `json:"params,omitempty" db:"params"`
	Input        string          `json:"input,omitempty" db:"input"`
	Output       string          `json:"output_text" db:"output"`
	InputTokens  int             `json:"input_tokens" db:"input_tokens"`
	OutputTokens int             `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int             `json:"total_tokens" db:"total_tokens"`
	CostUSD      float64         `json:"cost_usd" db:"cost_usd"`
	LatencyMs    int64           `json:"latency_ms" db:"latency_ms"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Evaluation kinds.
const (
	EvalCriteria  = "criteria"
	EvalMetrics   = "metrics"
	EvalChecklist = "checklist"
	EvalJudge     = "judge"
)

type Evaluation struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	RunID     uuid.UUID       `json:"run_id" db:"run_id"`
	Kind      string          `json:"kind" db:"kind"`
	Score     float64         `json:"score" db:"score"`
	Details   json.RawMessage `json:"details" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Review is an LLM meta-review of a prompt version: what to add or remove to
// get the desired behavior.
type Review struct {
	ID            uuid.UUID `json:"id" db:"id"`
	PromptID      uuid.UUID `json:"prompt_id" db:"prompt_id"`
	SourceVersion int       `json:"source_version" db:"source_version"`
	Desired       string    `json:"desired" db:"desired"`
	Undesired     string    `json:"undesired" db:"undesired"`
	Model         string    `json:"llm_model" db:"model"`
	Temperature   float64   `json:"llm_temperature" db:"temperature"`
	MetaPrompt    string    `json:"meta_prompt" db:"meta_prompt"`
	Output        string    `json:"llm_output" db:"output"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
