// Package draft produces the first version of a prompt from a goal.
package draft

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/models"
)

// Drafter turns a goal into version 1 text.
type Drafter interface {
	Draft(ctx context.Context, goal string) (string, error)
	Name() string
}

const skeletonTemplate = `# ROLE
You are an assistant that {{goal}}.

# INSTRUCTIONS
- Follow the task precisely.
- Ask once for missing critical info.
- Be concise.

# OUTPUT
- Provide the final answer only.

# SAFETY
- If uncertain, state assumptions briefly.
`

// Skeleton renders the fixed ROLE / INSTRUCTIONS / OUTPUT / SAFETY template.
func Skeleton(goal string) string {
	out, err := fill(skeletonTemplate, goal)
	if err != nil {
		// skeletonTemplate has no slot other than goal.
		panic(err)
	}
	return out
}

// SkeletonDrafter is the offline Drafter.
type SkeletonDrafter struct{}

func (SkeletonDrafter) Name() string { return "skeleton" }

func (SkeletonDrafter) Draft(_ context.Context, goal string) (string, error) {
	return Skeleton(goal), nil
}

const architectSystem = "Developer: You are a world-class prompt engineer. Your objective is to create execution-ready prompts that reliably guide another AI model. The prompts should be concrete, minimal, and actionable."

const architectTemplate = `# Role and Objective
Act as a world-class Prompt Architect. Your task is to produce ONE execution-ready prompt that enables another AI (the "Executor") to accomplish the specified goal with high reliability.

# Specified Goal
{{goal}}

Begin with a concise checklist (3–7 bullets) of the critical sub-tasks you will follow; keep items conceptual, not implementation-level.

# Guidelines
1. Success Criteria
   - Ensure your prompt has clear, specific, and measurable success criteria.
   - Define what you want to achieve precisely (e.g., "accurate sentiment classification" instead of "good performance").
   - Use quantitative metrics or consistently applied qualitative scales.
   - Targets should be achievable based on relevant benchmarks, experiments, or expert input.

2. Role Crafting
   - Define a role for the prompt that best accomplishes the goal.

3. Prompt Quality Rubric (Internal Only)
   - Privately construct a 5–7 category rubric covering dimensions like Clarity & Specificity, Context & Constraints, Safety & Ethics, Output Structure & Testability, Reasoning & Verification, Style & Audience Fit, and Tooling & Reproducibility.
   - Do not output, mention, or reference this rubric.
   - Thoroughly evaluate your prompt draft against this rubric, iterating and revising (up to 3 silent passes) until it achieves top marks in every category, all without sharing your internal process or rubric.

After producing your prompt, validate in 1–2 lines that it directly addresses the provided goal and fully meets the listed success criteria. If not, perform a silent revision.

# Output Format
- Output a single fenced code block using markdown (` + "```" + `).
- Inside this code block, provide the final, execution-ready prompt as it should be presented to another model.
- Do not include explanations, comments, or additional formatting; only the prompt text within the code block.
`

const (
	DefaultArchitectModel    = "gpt-5"
	architectMaxTokens       = 2000
	architectReasoningEffort = "low"
)

// Architect asks the LLM to write an execution-ready prompt for the goal.
type Architect struct {
	gateway  llm.Gateway
	provider string
	model    string
}

func NewArchitect(gw llm.Gateway, provider, model string) *Architect {
	if model == "" {
		model = DefaultArchitectModel
	}
	return &Architect{gateway: gw, provider: provider, model: model}
}

func (a *Architect) Name() string { return "architect" }

// Messages builds the two-message exchange sent for goal.
func (a *Architect) Messages(goal string) ([]llm.Message, error) {
	user, err := fill(architectTemplate, goal)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: "system", Content: architectSystem},
		{Role: "user", Content: user},
	}, nil
}

func (a *Architect) Draft(ctx context.Context, goal string) (string, error) {
	if strings.TrimSpace(goal) == "" {
		return "", fmt.Errorf("%w: goal is required", models.ErrValidation)
	}
	msgs, err := a.Messages(goal)
	if err != nil {
		return "", err
	}
	resp, err := a.gateway.Chat(ctx, llm.ChatRequest{
		Provider:        a.provider,
		Model:           a.model,
		Messages:        msgs,
		MaxTokens:       architectMaxTokens,
		ReasoningEffort: architectReasoningEffort,
	})
	if err != nil {
		return "", fmt.Errorf("architect draft: %w", err)
	}
	return ExtractCodeBlock(resp.Content), nil
}

var codeBlockPattern = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")

// ExtractCodeBlock returns the trimmed body of the first fenced code block
// in text, or the whole trimmed text when there is none.
func ExtractCodeBlock(text string) string {
	if m := codeBlockPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
