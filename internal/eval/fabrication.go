package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/hirohiro424/sparkling/internal/llm"
)

// FabricationDetector flags outputs that contain false or invented claims.
// Runs have no retrieved context, so only the open-ended check applies.
type FabricationDetector struct {
	gateway  llm.Gateway
	provider string
	model    string
}

func NewFabricationDetector(gw llm.Gateway, provider, model string) *FabricationDetector {
	if model == "" {
		model = "gpt-4o"
	}
	return &FabricationDetector{gateway: gw, provider: provider, model: model}
}

func (d *FabricationDetector) Name() string { return "fabrication" }

func (d *FabricationDetector) Evaluate(ctx context.Context, input EvalInput) (*EvalResult, error) {
	start := time.Now()

	user := fmt.Sprintf("Response to check:\n%s", input.Output)
	if input.Input != "" {
		user = fmt.Sprintf("Question: %s\n\n%s", input.Input, user)
	}
	if input.Reference != "" {
		user += fmt.Sprintf("\n\nGround truth (known correct answer): %s", input.Reference)
	}

	resp, err := d.gateway.Chat(ctx, llm.ChatRequest{
		Provider: d.provider,
		Model:    d.model,
		Messages: []llm.Message{
			{
				Role: "system",
				Content: `You are an expert fact-checker. Evaluate whether the response
contains obviously false, fabricated, or nonsensical claims.

Score from 0.0 to 1.0 where:
- 1.0 = all claims appear factually reasonable
- 0.5 = some questionable claims but mostly reasonable
- 0.0 = contains clearly false or fabricated information

Reply with ONLY a JSON object:
{"score": 0.0, "reasoning": "brief explanation"}`,
			},
			{Role: "user", Content: user},
		},
		Temperature: llm.Temp(0),
	})
	if err != nil {
		return nil, fmt.Errorf("fabrication detector: %w", err)
	}

	return parseEvalJSON(d.Name(), resp.Content, time.Since(start)), nil
}
