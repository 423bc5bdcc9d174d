package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/eval"
	"github.com/hirohiro424/sparkling/internal/models"
)

// EvalRequest scores a stored run. An empty Kind picks metrics when a
// reference is given, criteria otherwise.
type EvalRequest struct {
	RunID     uuid.UUID `json:"run_id"`
	Reference string    `json:"reference_text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Checklist []string  `json:"checklist,omitempty"`
}

func (r EvalRequest) kind() string {
	switch {
	case r.Kind != "":
		return r.Kind
	case r.Reference != "":
		return models.EvalMetrics
	default:
		return models.EvalCriteria
	}
}

// Evaluate scores the run named by req and stores the evaluation. Scores keep
// the scale of their kind: criteria, metrics and judge are 0..1, checklist is
// 0..100.
func (o *Orchestrator) Evaluate(ctx context.Context, req EvalRequest) (*models.Evaluation, error) {
	r, err := o.Get(ctx, req.RunID)
	if err != nil {
		return nil, err
	}

	kind := req.kind()
	var score float64
	var details any
	switch kind {
	case models.EvalCriteria:
		crits, err := o.prompts.Criteria(ctx, r.PromptID)
		if err != nil {
			return nil, err
		}
		res := eval.ScoreCriteria(r.Output, crits)
		score, details = res.Total, res.Details
	case models.EvalMetrics:
		res := eval.Metrics(r.Output, req.Reference)
		score = res.Distinct1
		if res.F1 != nil {
			score = *res.F1
		}
		details = res
	case models.EvalChecklist:
		res := eval.Checklist(r.Output, req.Checklist)
		score, details = res.Score, res
	case models.EvalJudge:
		if o.judge == nil {
			return nil, fmt.Errorf("%w: no judge configured", models.ErrValidation)
		}
		v, err := o.prompts.Store().GetVersionByID(ctx, r.VersionID)
		if err != nil {
			return nil, err
		}
		input := eval.EvalInput{Prompt: v.Content, Input: r.Input, Output: r.Output, Reference: req.Reference}
		if p, err := o.prompts.Prompt(ctx, r.PromptID); err == nil {
			input.Goal = p.Goal
		}
		results := o.judge.RunAll(ctx, input)
		score, details = eval.MeanScore(results), results
	default:
		return nil, fmt.Errorf("%w: unknown evaluation kind %q", models.ErrValidation, kind)
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation details: %w", err)
	}
	e := &models.Evaluation{RunID: r.ID, Kind: kind, Score: score, Details: raw}
	if err := o.prompts.Store().CreateEvaluation(ctx, e); err != nil {
		return nil, err
	}
	o.metrics.EvaluationScored(kind, score)
	return e, nil
}

func (o *Orchestrator) Evaluation(ctx context.Context, runID uuid.UUID) (*models.Evaluation, error) {
	return o.prompts.Store().LatestEvaluation(ctx, runID)
}

// Meta asks for guidance on improving the prompt behind a run, given its
// latest evaluation.
func (o *Orchestrator) Meta(ctx context.Context, runID uuid.UUID) (string, error) {
	if o.reviewer == nil {
		return "", fmt.Errorf("%w: no reviewer configured", models.ErrValidation)
	}
	r, err := o.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	e, err := o.Evaluation(ctx, runID)
	if errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("%w: run %s has no evaluation", models.ErrNotFound, runID)
	}
	if err != nil {
		return "", err
	}
	return o.reviewer.Improve(ctx, r.Output, string(e.Details))
}
