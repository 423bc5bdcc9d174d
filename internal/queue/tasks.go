package queue

import (
	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/run"
)

const (
	TypeRunExecute  = "run:execute"
	TypeRunEvaluate = "run:evaluate"
)

// RunExecutePayload carries a run request. When Evaluate is set a
// run:evaluate task follows a successful run.
type RunExecutePayload struct {
	run.Request
	Evaluate *RunEvaluatePayload `json:"evaluate,omitempty"`
}

// RunEvaluatePayload scores a stored run. RunID is filled in by the execute
// handler when the task is chained.
type RunEvaluatePayload struct {
	RunID     uuid.UUID `json:"run_id"`
	Reference string    `json:"reference_text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
}
