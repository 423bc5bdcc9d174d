package eval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/models"
)

const metaTemplate = `When asked to optimize prompts, give answers from your own perspective - explain what specific phrases could be added to, or deleted from, this prompt to more consistently elicit the desired behavior or prevent the undesired behavior.

Here's a prompt:
[PROMPT]

The desired behavior from this prompt is for the agent to [{DESIRED}], but instead it [{UNDESIRED}]. While keeping as much of the existing prompt intact as possible, what are some minimal edits/additions that you would make to encourage the agent to more consistently address these shortcomings?
`

const (
	reviewSystem  = "You are an expert prompt engineer. Be concrete, minimal, and actionable."
	improveSystem = "You produce meta-prompts that improve an existing prompt without overfitting."

	// MissingGoalHint stands in for the desired behavior when none is given
	// and the prompt has no goal section.
	MissingGoalHint = "the intended goal stated in the '# 목표' section (not found; infer best you can)"

	DefaultReviewTemperature = 0.2
	reviewMaxTokens          = 800
	improveMaxTokens         = 800
)

// goalSection captures the body of a "# 목표" or "# goal" section up to the
// next header or the end of the text.
var goalSection = regexp.MustCompile(`(?is)#\s*(?:목표|goal)\s*\n(.*?)(?:\n#\s|\z)`)

// ExtractGoal returns the trimmed goal section of content.
func ExtractGoal(content string) (string, bool) {
	m := goalSection.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// BuildMetaPrompt fills the review template.
func BuildMetaPrompt(prompt, desired, undesired string) string {
	return strings.NewReplacer(
		"PROMPT", strings.TrimSpace(prompt),
		"{DESIRED}", strings.TrimSpace(desired),
		"{UNDESIRED}", strings.TrimSpace(undesired),
	).Replace(metaTemplate)
}

// Reviewer asks an LLM how to edit a prompt so it behaves as intended.
type Reviewer struct {
	gateway  llm.Gateway
	provider string
	model    string
}

func NewReviewer(gw llm.Gateway, provider, model string) *Reviewer {
	return &Reviewer{gateway: gw, provider: provider, model: model}
}

type ReviewRequest struct {
	Content     string
	Desired     string
	Undesired   string
	Model       string
	Temperature *float64
}

type ReviewResult struct {
	MetaPrompt  string  `json:"meta_prompt"`
	Output      string  `json:"llm_output"`
	DesiredUsed string  `json:"desired_used"`
	Model       string  `json:"llm_model"`
	Temperature float64 `json:"llm_temperature"`
}

// Review sends the meta-prompt for req. A blank Desired falls back to the
// prompt's goal section, then to MissingGoalHint.
func (r *Reviewer) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	if strings.TrimSpace(req.Undesired) == "" {
		return nil, fmt.Errorf("%w: undesired behavior is required", models.ErrValidation)
	}
	desired := strings.TrimSpace(req.Desired)
	if desired == "" {
		if goal, ok := ExtractGoal(req.Content); ok && goal != "" {
			desired = goal
		} else {
			desired = MissingGoalHint
		}
	}
	temperature := DefaultReviewTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	model := req.Model
	if model == "" {
		model = r.model
	}

	meta := BuildMetaPrompt(req.Content, desired, req.Undesired)
	resp, err := r.gateway.Chat(ctx, llm.ChatRequest{
		Provider: r.provider,
		Model:    model,
		Messages: []llm.Message{
			{Role: "system", Content: reviewSystem},
			{Role: "user", Content: meta},
		},
		Temperature: llm.Temp(temperature),
		MaxTokens:   reviewMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	return &ReviewResult{
		MetaPrompt:  meta,
		Output:      strings.TrimSpace(resp.Content),
		DesiredUsed: desired,
		Model:       resp.Model,
		Temperature: temperature,
	}, nil
}

// Improve turns a run's output and its evaluation failures into bullet-point
// guidance for the next prompt version.
func (r *Reviewer) Improve(ctx context.Context, output, failures string) (string, error) {
	resp, err := r.gateway.Chat(ctx, llm.ChatRequest{
		Provider: r.provider,
		Model:    r.model,
		Messages: []llm.Message{
			{Role: "system", Content: improveSystem},
			{Role: "user", Content: fmt.Sprintf("Output:\n%s\n\nFailures:\n%s\n\nReturn improved guidance as bullet points.", output, failures)},
		},
		MaxTokens: improveMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("improve: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
