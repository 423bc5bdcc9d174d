package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/eval"
	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/prompt"
	"github.com/hirohiro424/sparkling/internal/store"
)

type fixture struct {
	svc  *prompt.Service
	mock *llm.MockProvider
	gw   llm.Gateway
	pid  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenJSONL(filepath.Join(t.TempDir(), "prompts.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := prompt.NewService(st)
	_, v, err := svc.Define(context.Background(), "runner", "lists three risks")
	require.NoError(t, err)

	mock := llm.NewMockProvider()
	mock.ResponseText = "- risk one\n- risk two\n- risk three"
	gw := llm.NewGateway(config.LLMConfig{DefaultProvider: llm.MockProviderName, DefaultModel: "mock-model"}, llm.WithProvider(mock))
	return &fixture{svc: svc, mock: mock, gw: gw, pid: v.PromptID}
}

func TestExecute(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	o := New(f.svc, f.gw, WithArtifactDir(dir), WithTimeout(time.Second))
	ctx := context.Background()

	r, err := o.Execute(ctx, Request{PromptID: f.pid, Input: "a data migration", Temperature: llm.Temp(0.3)})
	require.NoError(t, err)
	assert.Equal(t, "- risk one\n- risk two\n- risk three", r.Output)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, "mock-model", r.Model)
	assert.Equal(t, llm.MockProviderName, r.Provider)
	assert.Positive(t, r.TotalTokens)
	assert.JSONEq(t, `{"temperature":0.3}`, string(r.Params))

	req := f.mock.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You are an assistant that lists three risks.")
	assert.Equal(t, llm.Message{Role: "user", Content: "a data migration"}, req.Messages[1])

	v, err := f.svc.Latest(ctx, f.pid)
	require.NoError(t, err)
	require.True(t, v.HasOutput())
	assert.Equal(t, r.Output, *v.Output)

	got, err := o.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.VersionID, got.VersionID)

	files, err := filepath.Glob(filepath.Join(dir, "run_"+r.ID.String()+"_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var saved models.Run
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, r.Output, saved.Output)
}

func TestExecute_ByVersionIDWithoutInput(t *testing.T) {
	f := newFixture(t)
	o := New(f.svc, f.gw)
	ctx := context.Background()

	first, err := f.svc.Get(ctx, f.pid, 1)
	require.NoError(t, err)
	_, err = f.svc.Edit(ctx, f.pid, prompt.EditRequest{Raw: "newer"})
	require.NoError(t, err)

	r, err := o.Execute(ctx, Request{VersionID: first.ID, Input: "   "})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Version)
	assert.Len(t, f.mock.LastRequest().Messages, 1)

	latest, err := f.svc.Latest(ctx, f.pid)
	require.NoError(t, err)
	assert.False(t, latest.HasOutput(), "only the executed version carries the output")
}

func TestExecute_FailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.mock.ShouldFail = true
	o := New(f.svc, f.gw)
	ctx := context.Background()

	_, err := o.Execute(ctx, Request{PromptID: f.pid})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstream))

	v, err := f.svc.Latest(ctx, f.pid)
	require.NoError(t, err)
	assert.False(t, v.HasOutput())
}

type runlessStore struct {
	store.Store
}

func (runlessStore) CreateRun(context.Context, *models.Run) error {
	return fmt.Errorf("%w: disk full", models.ErrStore)
}

func TestExecute_RunNotPersistedLeavesOutputUnset(t *testing.T) {
	f := newFixture(t)
	svc := prompt.NewService(runlessStore{Store: f.svc.Store()})
	o := New(svc, f.gw)
	ctx := context.Background()

	_, err := o.Execute(ctx, Request{PromptID: f.pid})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStore))

	v, err := svc.Latest(ctx, f.pid)
	require.NoError(t, err)
	assert.False(t, v.HasOutput())
}

func TestExecute_Timeout(t *testing.T) {
	f := newFixture(t)
	f.mock.Latency = time.Second
	o := New(f.svc, f.gw, WithTimeout(10*time.Millisecond))

	_, err := o.Execute(context.Background(), Request{PromptID: f.pid})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstream))
}

func TestExecute_Resolution(t *testing.T) {
	f := newFixture(t)
	o := New(f.svc, f.gw)
	ctx := context.Background()

	_, err := o.Execute(ctx, Request{})
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, err = o.Execute(ctx, Request{PromptID: f.pid, Version: 4})
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = o.Execute(ctx, Request{VersionID: uuid.New()})
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Zero(t, f.mock.RequestCount())
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)
	o := New(f.svc, f.gw)
	ctx := context.Background()

	_, err := f.svc.ReplaceCriteria(ctx, f.pid, []models.Criterion{
		{Key: "bullets", Description: "Uses bullet points", Weight: 2},
		{Key: "short", Description: "Stays concise", Weight: 1},
	})
	require.NoError(t, err)
	r, err := o.Execute(ctx, Request{PromptID: f.pid})
	require.NoError(t, err)

	e, err := o.Evaluate(ctx, EvalRequest{RunID: r.ID})
	require.NoError(t, err)
	assert.Equal(t, models.EvalCriteria, e.Kind)
	assert.InDelta(t, 1.0, e.Score, 1e-9)
	var details map[string]eval.CriterionResult
	require.NoError(t, json.Unmarshal(e.Details, &details))
	assert.True(t, details["bullets"].Passed)

	e, err = o.Evaluate(ctx, EvalRequest{RunID: r.ID, Reference: r.Output})
	require.NoError(t, err)
	assert.Equal(t, models.EvalMetrics, e.Kind)
	assert.InDelta(t, 1.0, e.Score, 1e-9)

	latest, err := o.Evaluation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, latest.ID)

	e, err = o.Evaluate(ctx, EvalRequest{RunID: r.ID, Kind: models.EvalChecklist})
	require.NoError(t, err)
	assert.Equal(t, eval.Checklist(r.Output, nil).Score, e.Score)

	_, err = o.Evaluate(ctx, EvalRequest{RunID: r.ID, Kind: "vibes"})
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, err = o.Evaluate(ctx, EvalRequest{RunID: r.ID, Kind: models.EvalJudge})
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, err = o.Evaluate(ctx, EvalRequest{RunID: uuid.New()})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestEvaluate_Judge(t *testing.T) {
	f := newFixture(t)
	judgeMock := llm.NewMockProvider()
	judgeMock.ResponseText = `{"score": 0.8, "details": {"goal_fit": 0.8}, "reasoning": "fine"}`
	judgeGW := llm.NewGateway(config.LLMConfig{DefaultProvider: llm.MockProviderName}, llm.WithProvider(judgeMock))
	o := New(f.svc, f.gw, WithJudge(eval.DefaultSuite(judgeGW, "", "")))
	ctx := context.Background()

	r, err := o.Execute(ctx, Request{PromptID: f.pid})
	require.NoError(t, err)
	e, err := o.Evaluate(ctx, EvalRequest{RunID: r.ID, Kind: models.EvalJudge})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, e.Score, 1e-9)
	assert.Contains(t, judgeMock.Requests()[0].Messages[1].Content, "lists three risks")
}

func TestMeta(t *testing.T) {
	f := newFixture(t)
	o := New(f.svc, f.gw, WithReviewer(eval.NewReviewer(f.gw, "", "")))
	ctx := context.Background()

	r, err := o.Execute(ctx, Request{PromptID: f.pid})
	require.NoError(t, err)

	_, err = o.Meta(ctx, r.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound), "meta needs an evaluation")

	_, err = o.Evaluate(ctx, EvalRequest{RunID: r.ID})
	require.NoError(t, err)
	f.mock.ResponseText = "- ask for severity"
	got, err := o.Meta(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "- ask for severity", got)
	assert.Contains(t, f.mock.LastRequest().Messages[1].Content, "Failures:\n")
}

func TestMessages(t *testing.T) {
	assert.Equal(t, []llm.Message{{Role: "system", Content: "p"}}, Messages("p", ""))
	assert.Len(t, Messages("p", "in"), 2)
}
