package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/app"
	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/llm"
)

type harness struct {
	t     *testing.T
	cfg   *config.Config
	mock  *llm.MockProvider
	opens int
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		t: t,
		cfg: &config.Config{
			Store: config.StoreConfig{
				Backend:   "jsonl",
				JSONLPath: filepath.Join(dir, "prompts.jsonl"),
			},
			LLM: config.LLMConfig{
				DefaultProvider: llm.MockProviderName,
				DefaultModel:    "mock-model",
			},
		},
		mock: llm.NewMockProvider(),
	}
}

func (h *harness) open(ctx context.Context) (*app.App, error) {
	h.opens++
	return app.New(ctx, h.cfg, app.WithGatewayOptions(llm.WithProvider(h.mock)))
}

func (h *harness) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr, h.open)
	return code, stdout.String(), stderr.String()
}

func (h *harness) ok(args ...string) string {
	code, out, errOut := h.run(args...)
	require.Equal(h.t, 0, code, "sparkling %s: %s", strings.Join(args, " "), errOut)
	return out
}

func (h *harness) showJSON(args ...string) versionView {
	out := h.ok(append([]string{"show", "-o", "json"}, args...)...)
	var v versionView
	require.NoError(h.t, json.Unmarshal([]byte(out), &v))
	return v
}

func TestDefineEditShowDiffRollback(t *testing.T) {
	h := newHarness(t)

	out := h.ok("define", "--title", "poet", "--goal", "writes haiku about the sea")
	assert.Contains(t, out, `[+] defined "poet"`)
	assert.Contains(t, out, "  1│ ")

	v1 := h.showJSON("--title", "poet")
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "define", v1.Kind)
	assert.Equal(t, "poet", v1.Title)

	out = h.ok("edit", "--title", "poet", "--set", "1:# ROLE: poet", "--insert", "1:Be brief.")
	assert.Contains(t, out, "[+] 2 edit(s) applied")

	v2 := h.showJSON("--id", v1.PromptID.String(), "--version", "2")
	assert.Equal(t, "edit", v2.Kind)
	lines := strings.Split(v2.Text, "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "Be brief.", lines[0])
	assert.Equal(t, "# ROLE: poet", lines[1])

	out = h.ok("diff", "--title", "poet", "--a", "1", "--b", "2")
	assert.True(t, strings.HasPrefix(out, "--- v1\n+++ v2\n"), out)
	assert.Contains(t, out, "\n+# ROLE: poet\n")

	out = h.ok("diff", "--title", "poet", "--a", "2", "--b", "2")
	assert.Equal(t, "v2 and v2 are identical\n", out)

	out = h.ok("rollback", "--title", "poet", "--to", "1")
	assert.Contains(t, out, "[+] v1 restored as v3")
	v3 := h.showJSON("--title", "poet")
	assert.Equal(t, 3, v3.Version)
	assert.Equal(t, v1.Text, v3.Text)
}

func TestEdit_PatchJSON(t *testing.T) {
	h := newHarness(t)
	h.ok("define", "--title", "p", "--goal", "summarizes tickets")

	h.ok("edit", "--title", "p", "--patch-json", `[{"op":"set","line":1,"text":"first"}]`)
	assert.Equal(t, "first", strings.Split(h.showJSON("--title", "p").Text, "\n")[0])

	code, _, errOut := h.run("edit", "--title", "p", "--patch-json", `[{"op":"rename","line":1}]`)
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(errOut, "[!] "), errOut)
	assert.Equal(t, 2, h.showJSON("--title", "p").Version)
}

func TestEdit_WithoutOpsAppendsUnchangedVersion(t *testing.T) {
	h := newHarness(t)
	h.ok("define", "--title", "p", "--goal", "sorts mail")
	v1 := h.showJSON("--title", "p")

	out := h.ok("edit", "--title", "p", "--note", "checkpoint")
	assert.Contains(t, out, "[+] 0 edit(s) applied")

	v2 := h.showJSON("--title", "p")
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "edit", v2.Kind)
	assert.Equal(t, v1.Text, v2.Text)
}

func TestEdit_BadOpNeverOpensStore(t *testing.T) {
	h := newHarness(t)
	code, _, errOut := h.run("edit", "--title", "p", "--set", "one:text")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "line must be an integer")
	assert.Zero(t, h.opens)
}

func TestUnresolvedReferencesExitNonZero(t *testing.T) {
	h := newHarness(t)
	h.ok("define", "--title", "dup", "--goal", "first")
	h.ok("define", "--title", "dup", "--goal", "second")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown title", []string{"show", "--title", "nope"}, `no prompt titled "nope"`},
		{"ambiguous title", []string{"show", "--title", "dup"}, "pick one by id"},
		{"missing reference", []string{"show"}, "title or id is required"},
		{"bad id", []string{"show", "--id", "not-a-uuid"}, "invalid prompt id"},
		{"missing flag", []string{"diff", "--title", "dup", "--a", "1"}, `required flag(s) "b" not set`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := h.run(tt.args...)
			assert.Equal(t, 1, code)
			assert.Empty(t, out)
			assert.True(t, strings.HasPrefix(errOut, "[!] "), errOut)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestMissingVersionExitsNonZero(t *testing.T) {
	h := newHarness(t)
	h.ok("define", "--title", "p", "--goal", "sorts mail")

	code, _, errOut := h.run("show", "--title", "p", "--version", "7")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "[!] ")

	code, _, _ = h.run("rollback", "--title", "p", "--to", "7")
	assert.Equal(t, 1, code)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "no prompts yet\n", h.ok("list"))

	h.ok("define", "--title", "alpha", "--goal", "one")
	h.ok("define", "--title", "beta", "--goal", "two")
	h.ok("edit", "--title", "beta", "--set", "1:x")

	out := h.ok("list")
	assert.Contains(t, out, "TITLE")
	assert.Regexp(t, `alpha\s+v1`, out)
	assert.Regexp(t, `beta\s+v2`, out)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.ok("list", "-o", "json")), &items))
	assert.Len(t, items, 2)
}

func TestEval(t *testing.T) {
	h := newHarness(t)
	h.mock.ResponseText = "Add a FORBIDDEN section."
	h.ok("define", "--title", "sql", "--goal", "writes SQL")

	out := h.ok("eval", "--title", "sql", "--undesired", "writes prose", "--temperature", "0.2")
	assert.Contains(t, out, "review of v1")
	assert.Contains(t, out, "=== Meta Prompt Sent ===\n")
	assert.Contains(t, out, "but instead it [writes prose]")
	assert.Contains(t, out, "\n\n=== LLM Feedback ===\nAdd a FORBIDDEN section.\n")
	meta := strings.Index(out, "=== Meta Prompt Sent ===")
	assert.Less(t, meta, strings.Index(out, "=== LLM Feedback ==="))

	req := h.mock.LastRequest()
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)

	code, _, errOut := h.run("eval", "--title", "sql")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "undesired")
}

func TestRunAndCheck(t *testing.T) {
	h := newHarness(t)
	h.mock.ResponseText = "- risk one\n- risk two"
	h.ok("define", "--title", "risks", "--goal", "lists risks")

	out := h.ok("run", "--title", "risks", "--input", "a bridge", "--evaluate", "metrics", "-o", "json")
	var view struct {
		Run struct {
			Output  string `json:"output_text"`
			Version int    `json:"version"`
		} `json:"run"`
		Evaluation *struct {
			Kind string `json:"kind"`
		} `json:"evaluation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "- risk one\n- risk two", view.Run.Output)
	assert.Equal(t, 1, view.Run.Version)
	require.NotNil(t, view.Evaluation)
	assert.Equal(t, "metrics", view.Evaluation.Kind)
	assert.Equal(t, "a bridge", h.mock.LastRequest().Messages[1].Content)

	shown := h.showJSON("--title", "risks")
	require.NotNil(t, shown.Output)
	assert.Equal(t, "- risk one\n- risk two", *shown.Output)

	out = h.ok("check", "--title", "risks", "-o", "yaml")
	assert.Contains(t, out, "score:")
	assert.Contains(t, out, "version: 1")

	out = h.ok("check", "--title", "risks", "--item", "risks")
	assert.Contains(t, out, "v1 score:")
}

func TestOutputFormat(t *testing.T) {
	h := newHarness(t)
	code, _, errOut := h.run("list", "-o", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `unknown output format "xml"`)
	assert.Zero(t, h.opens)

	var buf bytes.Buffer
	require.NoError(t, OutputTo(&buf, OutputFormatYAML, versionView{Version: 2, Text: "a"}))
	assert.Contains(t, buf.String(), "version: 2\n")
	assert.Contains(t, buf.String(), "text: a\n")
}
