package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hirohiro424/sparkling/internal/draft"
	"github.com/hirohiro424/sparkling/internal/llm"
)

// EvalResult holds the outcome of an LLM-scored evaluation.
type EvalResult struct {
	Name      string             `json:"name"`
	Score     float64            `json:"score"` // 0.0 to 1.0
	Pass      bool               `json:"pass"`
	Details   map[string]float64 `json:"details,omitempty"`
	Reasoning string             `json:"reasoning,omitempty"`
	Duration  time.Duration      `json:"duration_ms"`
}

// Evaluator scores a run's output.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvalInput) (*EvalResult, error)
	Name() string
}

// EvalInput is the data fed into an evaluator.
type EvalInput struct {
	Goal      string `json:"goal,omitempty"`
	Prompt    string `json:"prompt"`
	Input     string `json:"input,omitempty"`
	Output    string `json:"output"`
	Reference string `json:"reference,omitempty"`
}

// EvalSuite runs multiple evaluators and aggregates results.
type EvalSuite struct {
	evaluators []Evaluator
}

func NewEvalSuite() *EvalSuite {
	return &EvalSuite{}
}

func (s *EvalSuite) Add(e Evaluator) {
	s.evaluators = append(s.evaluators, e)
}

// RunAll executes all evaluators. A failing evaluator is reported as a zero
// score rather than aborting the suite.
func (s *EvalSuite) RunAll(ctx context.Context, input EvalInput) []EvalResult {
	results := make([]EvalResult, 0, len(s.evaluators))
	for _, e := range s.evaluators {
		result, err := e.Evaluate(ctx, input)
		if err != nil {
			results = append(results, EvalResult{
				Name:      e.Name(),
				Reasoning: fmt.Sprintf("evaluation error: %s", err.Error()),
			})
			continue
		}
		results = append(results, *result)
	}
	return results
}

// MeanScore averages result scores, 0 for no results.
func MeanScore(results []EvalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// DefaultSuite creates an eval suite with the standard LLM evaluators.
func DefaultSuite(gw llm.Gateway, provider, model string) *EvalSuite {
	suite := NewEvalSuite()
	suite.Add(NewLLMJudge(gw, provider, model))
	suite.Add(NewAdherenceEvaluator(gw, provider, model))
	suite.Add(NewFabricationDetector(gw, provider, model))
	return suite
}

// AdherenceEvaluator checks whether the output obeys the prompt it was
// produced from.
type AdherenceEvaluator struct {
	gateway  llm.Gateway
	provider string
	model    string
}

func NewAdherenceEvaluator(gw llm.Gateway, provider, model string) *AdherenceEvaluator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &AdherenceEvaluator{gateway: gw, provider: provider, model: model}
}

func (e *AdherenceEvaluator) Name() string { return "adherence" }

func (e *AdherenceEvaluator) Evaluate(ctx context.Context, input EvalInput) (*EvalResult, error) {
	start := time.Now()

	user := fmt.Sprintf("Prompt:\n%s\n\nOutput:\n%s", input.Prompt, input.Output)
	if input.Input != "" {
		user = fmt.Sprintf("Prompt:\n%s\n\nUser input:\n%s\n\nOutput:\n%s", input.Prompt, input.Input, input.Output)
	}

	resp, err := e.gateway.Chat(ctx, llm.ChatRequest{
		Provider: e.provider,
		Model:    e.model,
		Messages: []llm.Message{
			{
				Role: "system",
				Content: `Rate how closely the output follows the instructions of the prompt on a scale of 0.0 to 1.0.
Consider: required sections, stated constraints, forbidden actions and output format.
Reply with ONLY a JSON object: {"score": 0.0, "reasoning": "brief explanation"}`,
			},
			{Role: "user", Content: user},
		},
		Temperature: llm.Temp(0),
	})
	if err != nil {
		return nil, err
	}

	return parseEvalJSON(e.Name(), resp.Content, time.Since(start)), nil
}

// parseEvalJSON reads a {"score", "details", "reasoning"} reply, optionally
// fenced. Unparseable replies score zero.
func parseEvalJSON(name, content string, duration time.Duration) *EvalResult {
	var parsed struct {
		Score     float64            `json:"score"`
		Details   map[string]float64 `json:"details"`
		Reasoning string             `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(draft.ExtractCodeBlock(content)), &parsed); err != nil {
		return &EvalResult{Name: name, Reasoning: "failed to parse eval response", Duration: duration}
	}

	score := min(1, max(0, parsed.Score))
	return &EvalResult{
		Name:      name,
		Score:     score,
		Pass:      score >= 0.5,
		Details:   parsed.Details,
		Reasoning: parsed.Reasoning,
		Duration:  duration,
	}
}
