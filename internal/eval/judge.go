package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/hirohiro424/sparkling/internal/llm"
)

// LLMJudge uses an LLM to grade a run's output against the prompt's goal.
type LLMJudge struct {
	gateway  llm.Gateway
	provider string
	model    string
}

func NewLLMJudge(gw llm.Gateway, provider, model string) *LLMJudge {
	if model == "" {
		model = "gpt-4o"
	}
	return &LLMJudge{gateway: gw, provider: provider, model: model}
}

func (j *LLMJudge) Name() string { return "llm_judge" }

func (j *LLMJudge) Evaluate(ctx context.Context, input EvalInput) (*EvalResult, error) {
	start := time.Now()

	goal := input.Goal
	if goal == "" {
		goal = "(not stated; infer it from the prompt)"
	}
	prompt := fmt.Sprintf("Goal: %s\n\nPrompt:\n%s\n\nResponse being evaluated:\n%s", goal, input.Prompt, input.Output)
	if input.Reference != "" {
		prompt += fmt.Sprintf("\n\nReference answer:\n%s", input.Reference)
	}

	resp, err := j.gateway.Chat(ctx, llm.ChatRequest{
		Provider: j.provider,
		Model:    j.model,
		Messages: []llm.Message{
			{
				Role: "system",
				Content: `You are an expert evaluator of prompt outputs. Score the response on these dimensions:

1. **Goal fit** (0-1): Does it accomplish the stated goal?
2. **Completeness** (0-1): Does it cover everything the prompt asks for?
3. **Clarity** (0-1): Is it well-written and easy to understand?
4. **Format** (0-1): Does it use the structure and format the prompt requires?

Reply with ONLY a JSON object:
{
  "score": 0.0,
  "details": {"goal_fit": 0.0, "completeness": 0.0, "clarity": 0.0, "format": 0.0},
  "reasoning": "brief explanation"
}

The overall "score" should be the weighted average: goal_fit(0.4) + completeness(0.3) + clarity(0.15) + format(0.15)`,
			},
			{Role: "user", Content: prompt},
		},
		Temperature: llm.Temp(0),
	})
	if err != nil {
		return nil, fmt.Errorf("llm judge: %w", err)
	}

	return parseEvalJSON(j.Name(), resp.Content, time.Since(start)), nil
}
