package eval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/draft"
	"github.com/hirohiro424/sparkling/internal/models"
)

func TestChecklist_Skeleton(t *testing.T) {
	res := Checklist(draft.Skeleton("writes release notes"), nil)

	assert.Equal(t, DefaultChecklist[:4], res.Passed)
	assert.Equal(t, DefaultChecklist[4:], res.Failed)
	assert.Equal(t, 66.7, res.Score)
	assert.Equal(t, []string{"Add a FORBIDDEN section or Do NOT: lines", "Specify the output format"}, res.Notes)
}

func TestChecklist_AllPass(t *testing.T) {
	text := "# Role\nX\n# Instructions\nY\n# Output\nReply in JSON.\n# FORBIDDEN\n- Do NOT: guess"
	res := Checklist(text, nil)
	assert.Len(t, res.Passed, 6)
	assert.Empty(t, res.Failed)
	assert.Empty(t, res.Notes)
	assert.Equal(t, 100.0, res.Score)
}

func TestChecklist_Heuristics(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		failed []string
	}{
		{"vague phrase", "# ROLE # INSTRUCTIONS # OUTPUT markdown forbidden. Please DO YOUR BEST.", []string{DefaultChecklist[3]}},
		{"korean markers", "# role # instructions # output 금지 형식", nil},
		{"formatting header counts as format", "# role # instructions # output do not: x\n# FORMATTING", nil},
		{"empty text", "", []string{DefaultChecklist[0], DefaultChecklist[1], DefaultChecklist[2], DefaultChecklist[4], DefaultChecklist[5]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Checklist(tt.text, nil)
			if tt.failed == nil {
				assert.Empty(t, res.Failed)
			} else {
				assert.Equal(t, tt.failed, res.Failed)
			}
			assert.Len(t, res.Notes, len(res.Failed))
		})
	}
}

func TestChecklist_EmptyChecklistScoresFull(t *testing.T) {
	res := Checklist("anything", []string{})
	assert.Equal(t, 100.0, res.Score)
	assert.Empty(t, res.Passed)
	assert.Empty(t, res.Failed)
}

func TestChecklist_CustomLabels(t *testing.T) {
	labels := []string{"has role", "has steps", "has output", "no fluff", "has limits", "has format", "citations", "Tone"}
	res := Checklist("# role\n# instructions\ncite sources with citations", labels)

	assert.Equal(t, []string{"has role", "has steps", "no fluff", "citations"}, res.Passed)
	assert.Equal(t, []string{"has output", "has limits", "has format", "Tone"}, res.Failed)
	assert.Equal(t, 50.0, res.Score)
	assert.Equal(t, "Mention Tone", res.Notes[3])

	short := Checklist("# role", []string{"role", "instructions"})
	assert.Equal(t, []string{"role"}, short.Passed)
	assert.Equal(t, 50.0, short.Score)
}

func crit(key, desc string, typ models.CriterionType, w float64) models.Criterion {
	return models.Criterion{Key: key, Description: desc, Type: typ, Weight: w}
}

func TestScoreCriteria(t *testing.T) {
	criteria := []models.Criterion{
		crit("bullets", "Uses Bullet points", models.CriterionBoolean, 1),
		crit("brief", "Concise answer", models.CriterionBoolean, 2),
		crit("any", "Says something", models.CriterionBoolean, 1),
		crit("len", "length", models.CriterionScore, 1),
	}

	res := ScoreCriteria("- one\n- two", criteria)
	assert.True(t, res.Details["bullets"].Passed)
	assert.True(t, res.Details["brief"].Passed)
	assert.True(t, res.Details["any"].Passed)
	assert.Equal(t, 1.0, res.Details["len"].Score)
	assert.InDelta(t, 1.0, res.Total, 1e-9)
	assert.Equal(t, 2.0, res.Details["brief"].Weight)
	assert.Equal(t, "Concise answer", res.Details["brief"].Description)
}

func TestScoreCriteria_DecodedWeightDefaultsToOne(t *testing.T) {
	var criteria []models.Criterion
	require.NoError(t, json.Unmarshal([]byte(`[{"key":"b","desc":"uses bullets","type":"boolean"}]`), &criteria))

	res := ScoreCriteria("- a bullet", criteria)
	assert.Equal(t, 1.0, res.Details["b"].Weight)
	assert.InDelta(t, 1.0, res.Total, 1e-9)
}

func TestChecklist_EmptyText(t *testing.T) {
	// The vague-phrase check has nothing to object to, so it passes.
	res := Checklist("", nil)
	assert.Equal(t, []string{DefaultChecklist[3]}, res.Passed)
	assert.Len(t, res.Failed, 5)
	assert.Len(t, res.Notes, 5)
	assert.Equal(t, 16.7, res.Score)
}

func TestScoreCriteria_LongOutput(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "word "
	}
	criteria := []models.Criterion{
		crit("brief", "concise", models.CriterionBoolean, 1),
		crit("len", "length", models.CriterionScore, 3),
	}

	res := ScoreCriteria(long, criteria)
	assert.False(t, res.Details["brief"].Passed)
	assert.Equal(t, 0.0, res.Details["brief"].Score)
	assert.InDelta(t, 0.5, res.Details["len"].Score, 1e-9)
	assert.False(t, res.Details["len"].Passed)
	assert.InDelta(t, 1.5/4, res.Total, 1e-9)
}

func TestScoreCriteria_EmptyAndZeroWeight(t *testing.T) {
	res := ScoreCriteria("", []models.Criterion{crit("any", "non-empty", models.CriterionBoolean, 1)})
	assert.False(t, res.Details["any"].Passed)
	assert.Equal(t, 0.0, res.Total)

	res = ScoreCriteria("ok", []models.Criterion{crit("any", "non-empty", models.CriterionBoolean, 0)})
	assert.True(t, res.Details["any"].Passed)
	assert.Equal(t, 0.0, res.Total)

	res = ScoreCriteria("ok", nil)
	assert.Equal(t, 0.0, res.Total)
	assert.Empty(t, res.Details)
}
