package edit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/models"
)

func TestApply_EmptyOpsIsIdentity(t *testing.T) {
	inputs := []string{"", "A", "A\nB\nC", "trailing\n", "crlf\r\nline"}
	for _, in := range inputs {
		assert.Equal(t, in, Apply(in, nil))
		assert.Equal(t, in, Apply(in, []Op{}))
	}
}

func TestApply_MixedOpsUseOriginalNumbering(t *testing.T) {
	out := Apply("A\nB\nC", []Op{Set(2, "BB"), Insert(2, "X"), Delete(3)})
	assert.Equal(t, []string{"A", "X", "BB"}, SplitLines(out))
}

func TestApply_SameLineKeepsInputOrder(t *testing.T) {
	t.Run("set then insert", func(t *testing.T) {
		out := Apply("A\nB\nC", []Op{Set(2, "BB"), Insert(2, "X")})
		assert.Equal(t, "A\nX\nBB\nC", out)
	})

	t.Run("insert then set", func(t *testing.T) {
		// The insert lands first, so the set hits the inserted line.
		out := Apply("A\nB\nC", []Op{Insert(2, "X"), Set(2, "BB")})
		assert.Equal(t, "A\nBB\nB\nC", out)
	})

	t.Run("two inserts", func(t *testing.T) {
		out := Apply("A\nB", []Op{Insert(2, "first"), Insert(2, "second")})
		assert.Equal(t, "A\nsecond\nfirst\nB", out)
	})
}

func TestApply_Bounds(t *testing.T) {
	tests := []struct {
		name string
		ops  []Op
		want string
	}{
		{"set past end ignored", []Op{Set(4, "x")}, "A\nB\nC"},
		{"set line zero ignored", []Op{Set(0, "x")}, "A\nB\nC"},
		{"negative line ignored", []Op{Delete(-1)}, "A\nB\nC"},
		{"delete past end ignored", []Op{Delete(4)}, "A\nB\nC"},
		{"insert at len+1 appends", []Op{Insert(4, "D")}, "A\nB\nC\nD"},
		{"insert past len+1 ignored", []Op{Insert(5, "D")}, "A\nB\nC"},
		{"insert at top", []Op{Insert(1, "Z")}, "Z\nA\nB\nC"},
		{"unknown op ignored", []Op{{Op: "upsert", Line: 1, Text: "x"}}, "A\nB\nC"},
		{"delete all", []Op{Delete(1), Delete(2), Delete(3)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply("A\nB\nC", tt.ops))
		})
	}
}

func TestApply_DoesNotMutateCallerOps(t *testing.T) {
	ops := []Op{Set(1, "a"), Set(3, "c")}
	Apply("A\nB\nC", ops)
	assert.Equal(t, 1, ops[0].Line)
	assert.Equal(t, 3, ops[1].Line)
}

func TestApply_InsertIntoEmptyText(t *testing.T) {
	assert.Equal(t, "hello", Apply("", []Op{Insert(1, "hello")}))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, SplitLines(""))
	assert.Equal(t, []string{"a"}, SplitLines("a\n"))
	assert.Equal(t, []string{"a", ""}, SplitLines("a\n\n"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitLines("a\r\nb\rc"))
}

func TestWithLineNumbers(t *testing.T) {
	assert.Equal(t, "  1│ A\n  2│ B", WithLineNumbers("A\nB"))
	assert.Equal(t, "", WithLineNumbers(""))
}

func TestParseLineSpec(t *testing.T) {
	op, err := ParseLineSpec(OpSet, "12:new: sentence")
	require.NoError(t, err)
	assert.Equal(t, Set(12, "new: sentence"), op)

	_, err = ParseLineSpec(OpInsert, "no colon")
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = ParseLineSpec(OpInsert, "x:text")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestParseDelete(t *testing.T) {
	op, err := ParseDelete(" 9 ")
	require.NoError(t, err)
	assert.Equal(t, Delete(9), op)

	_, err = ParseDelete("nine")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestParsePatchJSON(t *testing.T) {
	ops, err := ParsePatchJSON([]byte(`[{"op":"set","line":3,"text":"x"},{"op":"delete","line":1},{"op":"insert","text":"top"}]`))
	require.NoError(t, err)
	assert.Equal(t, []Op{Set(3, "x"), Delete(1), Insert(1, "top")}, ops)

	bad := []string{
		`not json`,
		`{"op":"set"}`,
		`[{"op":"rename","line":1}]`,
		`[{"line":1}]`,
		`[{"op":"set","line":"one"}]`,
	}
	for _, b := range bad {
		_, err := ParsePatchJSON([]byte(b))
		assert.Truef(t, errors.Is(err, models.ErrValidation), "input %s", b)
	}
}
