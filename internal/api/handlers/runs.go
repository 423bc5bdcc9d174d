package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/queue"
	"github.com/hirohiro424/sparkling/internal/run"
)

type RunHandler struct {
	runs  *run.Orchestrator
	queue queue.Enqueuer
}

// NewRunHandler serves runs and evaluations. q may be nil, which disables
// async requests.
func NewRunHandler(runs *run.Orchestrator, q queue.Enqueuer) *RunHandler {
	return &RunHandler{runs: runs, queue: q}
}

type createRunRequest struct {
	run.Request
	Async    bool                      `json:"async"`
	Evaluate *queue.RunEvaluatePayload `json:"evaluate,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type runResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	PromptID  uuid.UUID `json:"prompt_id"`
	Version   int       `json:"version"`
	Model     string    `json:"model"`
	Output    string    `json:"output_text"`
	LatencyMs int64     `json:"latency_ms"`
	Usage     usage     `json:"usage"`
	CostUSD   float64   `json:"cost_usd"`
}

func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.Async {
		if h.queue == nil {
			writeError(w, r, fmt.Errorf("%w: async runs need a queue", models.ErrValidation))
			return
		}
		taskID, err := h.queue.EnqueueRunExecute(r.Context(), queue.RunExecutePayload{Request: req.Request, Evaluate: req.Evaluate})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
		return
	}

	res, err := h.runs.Execute(r.Context(), req.Request)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		RunID:     res.ID,
		PromptID:  res.PromptID,
		Version:   res.Version,
		Model:     res.Model,
		Output:    res.Output,
		LatencyMs: res.LatencyMs,
		Usage:     usage{InputTokens: res.InputTokens, OutputTokens: res.OutputTokens, TotalTokens: res.TotalTokens},
		CostUSD:   res.CostUSD,
	})
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Meta returns improvement guidance for a run that has been evaluated.
func (h *RunHandler) Meta(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	text, err := h.runs.Meta(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "meta": text})
}

type evalRequest struct {
	run.EvalRequest
	Async bool `json:"async"`
}

// Evaluate scores a run. The reply carries "metrics" for metric evaluations
// and "total" with "details" for criteria ones.
func (h *RunHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evalRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RunID == uuid.Nil {
		writeError(w, r, fmt.Errorf("%w: run_id is required", models.ErrValidation))
		return
	}

	if req.Async {
		if h.queue == nil {
			writeError(w, r, fmt.Errorf("%w: async evaluations need a queue", models.ErrValidation))
			return
		}
		taskID, err := h.queue.EnqueueRunEvaluate(r.Context(), queue.RunEvaluatePayload{RunID: req.RunID, Reference: req.Reference, Kind: req.Kind})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
		return
	}

	e, err := h.runs.Evaluate(r.Context(), req.EvalRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluationBody(e))
}

func (h *RunHandler) Evaluation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.runs.Evaluation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluationBody(e))
}

func evaluationBody(e *models.Evaluation) map[string]any {
	body := map[string]any{
		"evaluation_id": e.ID,
		"run_id":        e.RunID,
		"kind":          e.Kind,
		"score":         e.Score,
	}
	details := json.RawMessage(e.Details)
	switch e.Kind {
	case models.EvalMetrics:
		body["metrics"] = details
	case models.EvalCriteria:
		body["total"] = e.Score
		body["details"] = details
	default:
		body["details"] = details
	}
	return body
}
