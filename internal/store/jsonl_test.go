package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/models"
)

func TestJSONL_ReadsLegacyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.jsonl")
	pid := uuid.New()
	lines := `{"prompt_id":"` + pid.String() + `","version":1,"title":"mail","content":"# ROLE\nv1","meta":{"goal":"g"},"created_at":"2024-05-01T10:00:00Z"}
{"prompt_id":"` + pid.String() + `","version":2,"title":"mail","content":"# ROLE\nv2","meta":{"changes":[]},"created_at":"2024-05-01T10:05:00Z"}
{"record_type":"eval","prompt_id":"` + pid.String() + `","source_version":2,"title":"mail","desired":"g","undesired":"long","llm_model":"gpt-5","llm_temperature":0.2,"meta_prompt":"m","llm_output":"- fix","created_at":"2024-05-01T10:06:00Z"}

not json at all
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))

	s, err := OpenJSONL(path)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := s.GetPrompt(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "mail", p.Title)

	latest, err := s.LatestVersion(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "# ROLE\nv2", latest.Content)

	reviews, err := s.ListReviews(ctx, pid)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "- fix", reviews[0].Output)
	assert.Equal(t, "gpt-5", reviews[0].Model)

	next := &models.Version{PromptID: pid, Content: "v3"}
	require.NoError(t, s.AppendVersion(ctx, next))
	assert.Equal(t, 3, next.Version)
}

func TestJSONL_ReopenSeesPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "prompts.jsonl")
	ctx := context.Background()

	s, err := OpenJSONL(path)
	require.NoError(t, err)
	p := &models.Prompt{Title: "persist"}
	require.NoError(t, s.CreatePrompt(ctx, p))
	v := &models.Version{PromptID: p.ID, Content: "hello"}
	require.NoError(t, s.AppendVersion(ctx, v))
	require.NoError(t, s.AttachOutput(ctx, v.ID, "world"))

	reopened, err := OpenJSONL(path)
	require.NoError(t, err)
	got, err := reopened.LatestVersion(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Output)
	assert.Equal(t, "world", *got.Output)
}

func TestJSONL_PicksUpLinesFromOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.jsonl")
	ctx := context.Background()

	a, err := OpenJSONL(path)
	require.NoError(t, err)
	b, err := OpenJSONL(path)
	require.NoError(t, err)

	p := &models.Prompt{Title: "shared"}
	require.NoError(t, a.CreatePrompt(ctx, p))
	require.NoError(t, a.AppendVersion(ctx, &models.Version{PromptID: p.ID, Content: "from a"}))

	v := &models.Version{PromptID: p.ID, Content: "from b"}
	require.NoError(t, b.AppendVersion(ctx, v))
	assert.Equal(t, 2, v.Version)

	latest, err := a.LatestVersion(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "from b", latest.Content)
}

func TestJSONL_IgnoresPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.jsonl")
	ctx := context.Background()

	s, err := OpenJSONL(path)
	require.NoError(t, err)
	p := &models.Prompt{Title: "partial"}
	require.NoError(t, s.CreatePrompt(ctx, p))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"record_type":"version","prompt_id":"` + p.ID.String() + `","vers`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.LatestVersion(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
