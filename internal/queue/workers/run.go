package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/queue"
	"github.com/hirohiro424/sparkling/internal/run"
)

// RunWorker handles run:execute and run:evaluate.
type RunWorker struct {
	runs  *run.Orchestrator
	queue queue.Enqueuer
}

// NewRunWorker chains evaluations through q; q may be nil, in which case
// chained evaluations run inline.
func NewRunWorker(runs *run.Orchestrator, q queue.Enqueuer) *RunWorker {
	return &RunWorker{runs: runs, queue: q}
}

// Register adds both handlers to reg.
func (w *RunWorker) Register(reg *queue.HandlersRegistry) {
	reg.Register(queue.TypeRunExecute, asynq.HandlerFunc(w.ProcessExecute))
	reg.Register(queue.TypeRunEvaluate, asynq.HandlerFunc(w.ProcessEvaluate))
}

func (w *RunWorker) ProcessExecute(ctx context.Context, t *asynq.Task) error {
	var payload queue.RunExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	slog.Info("executing run", "prompt_id", payload.PromptID, "version_id", payload.VersionID, "model", payload.Model)
	r, err := w.runs.Execute(ctx, payload.Request)
	if err != nil {
		return skipPermanent(err)
	}

	if payload.Evaluate == nil {
		return nil
	}
	next := *payload.Evaluate
	next.RunID = r.ID
	if w.queue == nil {
		return w.evaluate(ctx, next)
	}
	if _, err := w.queue.EnqueueRunEvaluate(ctx, next); err != nil {
		return fmt.Errorf("chain evaluation for run %s: %w", r.ID, err)
	}
	return nil
}

func (w *RunWorker) ProcessEvaluate(ctx context.Context, t *asynq.Task) error {
	var payload queue.RunEvaluatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.evaluate(ctx, payload)
}

func (w *RunWorker) evaluate(ctx context.Context, payload queue.RunEvaluatePayload) error {
	e, err := w.runs.Evaluate(ctx, run.EvalRequest{
		RunID:     payload.RunID,
		Reference: payload.Reference,
		Kind:      payload.Kind,
	})
	if err != nil {
		return skipPermanent(err)
	}
	slog.Info("run evaluated", "run_id", payload.RunID, "evaluation_id", e.ID, "kind", e.Kind, "score", e.Score)
	return nil
}

// skipPermanent marks errors that a retry cannot fix.
func skipPermanent(err error) error {
	if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
