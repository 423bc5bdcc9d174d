package llm

import "strings"

// costPerToken stores per-1K-token pricing for known models.
// Prices in USD per 1K tokens: [input, output].
var costPerToken = map[string][2]float64{
	// OpenAI
	"gpt-5":         {0.00125, 0.01},
	"gpt-5-mini":    {0.00025, 0.002},
	"gpt-5-nano":    {0.00005, 0.0004},
	"gpt-4.1":       {0.002, 0.008},
	"gpt-4.1-mini":  {0.0004, 0.0016},
	"gpt-4o":        {0.0025, 0.01},
	"gpt-4o-mini":   {0.00015, 0.0006},
	"o3":            {0.002, 0.008},
	"o3-mini":       {0.0011, 0.0044},
	"o4-mini":       {0.0011, 0.0044},
	"gpt-3.5-turbo": {0.0005, 0.0015},

	// Anthropic
	"claude-3-5-haiku-latest":  {0.0008, 0.004},
	"claude-sonnet-4-20250514": {0.003, 0.015},
	"claude-opus-4-20250514":   {0.015, 0.075},
}

// CalculateCost prices a call by exact model name, then by the longest known
// prefix so dated snapshots such as gpt-5-2025-08-07 still resolve. Unknown
// models cost zero.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	prices, ok := costPerToken[model]
	if !ok {
		best := ""
		for name := range costPerToken {
			if strings.HasPrefix(model, name) && len(name) > len(best) {
				best = name
			}
		}
		if best == "" {
			return 0
		}
		prices = costPerToken[best]
	}
	inputCost := float64(inputTokens) / 1000.0 * prices[0]
	outputCost := float64(outputTokens) / 1000.0 * prices[1]
	return inputCost + outputCost
}
