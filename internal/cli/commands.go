package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hirohiro424/sparkling/internal/app"
	"github.com/hirohiro424/sparkling/internal/edit"
	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/prompt"
	"github.com/hirohiro424/sparkling/internal/run"
)

type promptRef struct {
	id    string
	title string
}

func (r *promptRef) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.title, "title", "", "prompt title")
	cmd.Flags().StringVar(&r.id, "id", "", "prompt id, wins over --title")
}

func (r *promptRef) resolve(ctx context.Context, a *app.App) (uuid.UUID, error) {
	return a.Prompts.Resolve(ctx, r.id, r.title)
}

type versionView struct {
	PromptID uuid.UUID `json:"prompt_id"`
	Title    string    `json:"title,omitempty"`
	Version  int       `json:"version"`
	Kind     string    `json:"kind,omitempty"`
	Text     string    `json:"text"`
	Output   *string   `json:"output_text,omitempty"`
}

func viewOf(v *models.Version, title string) versionView {
	return versionView{
		PromptID: v.PromptID,
		Title:    title,
		Version:  v.Version,
		Kind:     v.Kind,
		Text:     v.Content,
		Output:   v.Output,
	}
}

func (v versionView) writeText(w io.Writer) {
	fmt.Fprintf(w, "%s v%d", v.PromptID, v.Version)
	if v.Kind != "" {
		fmt.Fprintf(w, " (%s)", v.Kind)
	}
	fmt.Fprintf(w, "\n\n%s\n", edit.WithLineNumbers(v.Text))
	if v.Output != nil && *v.Output != "" {
		fmt.Fprintf(w, "\n--- output ---\n%s\n", *v.Output)
	}
}

func newDefineCmd(e *env) *cobra.Command {
	var title, goal string
	cmd := &cobra.Command{
		Use:   "define",
		Short: "Create a prompt and draft version 1 from a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			p, v, err := a.Prompts.Define(ctx, title, goal)
			if err != nil {
				return err
			}
			view := viewOf(v, p.Title)
			return e.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "[+] defined %q\n", p.Title)
				view.writeText(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "prompt title (default: first line of the goal)")
	cmd.Flags().StringVar(&goal, "goal", "", "what the prompt should achieve")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func newEditCmd(e *env) *cobra.Command {
	var (
		ref       promptRef
		sets      []string
		inserts   []string
		deletes   []string
		patchJSON string
		note      string
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Append a version with line edits applied to the latest one",
		Long: `Append a version with line edits applied to the latest one.

Line numbers are 1-based and refer to the latest version as shown by
"sparkling show". All edits are applied in a single pass. With no edits the
latest content is appended unchanged, so the request stays in the history.`,
		Example: `  sparkling edit --title summarizer --set "3:Answer in one sentence." --delete 5
  sparkling edit --id 6f1c... --patch-json '[{"op":"insert","line":2,"text":"Be brief."}]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := parseOps(sets, inserts, deletes, patchJSON)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, a)
			if err != nil {
				return err
			}
			v, err := a.Prompts.Edit(ctx, id, prompt.EditRequest{Ops: ops, Note: note})
			if err != nil {
				return err
			}
			view := viewOf(v, "")
			return e.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "[+] %d edit(s) applied\n", len(ops))
				view.writeText(w)
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().StringArrayVar(&sets, "set", nil, `replace line N: "N:text" (repeatable)`)
	cmd.Flags().StringArrayVar(&inserts, "insert", nil, `insert before line N: "N:text" (repeatable)`)
	cmd.Flags().StringArrayVar(&deletes, "delete", nil, "delete line N (repeatable)")
	cmd.Flags().StringVar(&patchJSON, "patch-json", "", "JSON array of {op, line, text} edits")
	cmd.Flags().StringVar(&note, "note", "", "note stored with the version")
	return cmd
}

func parseOps(sets, inserts, deletes []string, patchJSON string) ([]edit.Op, error) {
	var ops []edit.Op
	for _, s := range sets {
		op, err := edit.ParseLineSpec(edit.OpSet, s)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	for _, s := range inserts {
		op, err := edit.ParseLineSpec(edit.OpInsert, s)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	for _, s := range deletes {
		op, err := edit.ParseDelete(s)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if patchJSON != "" {
		patch, err := edit.ParsePatchJSON([]byte(patchJSON))
		if err != nil {
			return nil, err
		}
		ops = append(ops, patch...)
	}
	return ops, nil
}

func newEvalCmd(e *env) *cobra.Command {
	var (
		ref         promptRef
		version     int
		desired     string
		undesired   string
		model       string
		temperature float64
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Ask the LLM how to edit a version to avoid an undesired behavior",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, a)
			if err != nil {
				return err
			}
			req := prompt.ReviewRequest{
				Version:   version,
				Desired:   desired,
				Undesired: undesired,
				Model:     model,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}
			rv, err := a.Prompts.Review(ctx, id, req)
			if err != nil {
				return err
			}
			return e.print(cmd, rv, func(w io.Writer) {
				fmt.Fprintf(w, "review of v%d (%s, temperature %.1f)\n\n", rv.SourceVersion, rv.Model, rv.Temperature)
				fmt.Fprintf(w, "=== Meta Prompt Sent ===\n%s\n\n=== LLM Feedback ===\n%s\n", rv.MetaPrompt, rv.Output)
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().IntVar(&version, "version", 0, "version to review (default: latest)")
	cmd.Flags().StringVar(&desired, "desired", "", "desired behavior (default: the prompt's goal)")
	cmd.Flags().StringVar(&undesired, "undesired", "", "behavior observed instead")
	cmd.Flags().StringVar(&model, "model", "", "model for the review")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	_ = cmd.MarkFlagRequired("undesired")
	return cmd
}

func newShowCmd(e *env) *cobra.Command {
	var (
		ref     promptRef
		version int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a version with line numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, a)
			if err != nil {
				return err
			}
			p, err := a.Prompts.Prompt(ctx, id)
			if err != nil {
				return err
			}
			v, err := a.Prompts.At(ctx, id, version)
			if err != nil {
				return err
			}
			view := viewOf(v, p.Title)
			return e.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", p.Title)
				view.writeText(w)
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().IntVar(&version, "version", 0, "version to show (default: latest)")
	return cmd
}

func newListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List prompts with their latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			prompts, err := a.Prompts.List(ctx)
			if err != nil {
				return err
			}
			return e.print(cmd, prompts, func(w io.Writer) {
				if len(prompts) == 0 {
					fmt.Fprintln(w, "no prompts yet")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tLATEST")
				for _, p := range prompts {
					fmt.Fprintf(tw, "%s\t%s\tv%d\n", p.ID, p.Title, p.LatestVersion)
				}
				tw.Flush()
			})
		},
	}
}

func newDiffCmd(e *env) *cobra.Command {
	var (
		ref  promptRef
		a, b int
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Unified diff between two versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, svc)
			if err != nil {
				return err
			}
			diff, err := svc.Prompts.Diff(ctx, id, a, b)
			if err != nil {
				return err
			}
			data := map[string]any{"prompt_id": id, "a": a, "b": b, "diff": diff}
			return e.print(cmd, data, func(w io.Writer) {
				if diff == "" {
					fmt.Fprintf(w, "v%d and v%d are identical\n", a, b)
					return
				}
				fmt.Fprintln(w, diff)
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().IntVar(&a, "a", 0, "from version")
	cmd.Flags().IntVar(&b, "b", 0, "to version")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	return cmd
}

func newRollbackCmd(e *env) *cobra.Command {
	var (
		ref promptRef
		to  int
	)
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Append a copy of an earlier version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, a)
			if err != nil {
				return err
			}
			v, err := a.Prompts.Rollback(ctx, id, to)
			if err != nil {
				return err
			}
			view := viewOf(v, "")
			return e.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "[+] v%d restored as v%d\n", to, v.Version)
				view.writeText(w)
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().IntVar(&to, "to", 0, "version to restore")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

type runView struct {
	Run        *models.Run        `json:"run"`
	Evaluation *models.Evaluation `json:"evaluation,omitempty"`
}

func newRunCmd(e *env) *cobra.Command {
	var (
		ref         promptRef
		req         run.Request
		temperature float64
		kind        string
		reference   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a version against the LLM and optionally score the output",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, a)
			if err != nil {
				return err
			}
			req.PromptID = id
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}
			r, err := a.Runs.Execute(ctx, req)
			if err != nil {
				return err
			}

			view := runView{Run: r}
			if kind != "" || reference != "" {
				view.Evaluation, err = a.Runs.Evaluate(ctx, run.EvalRequest{RunID: r.ID, Reference: reference, Kind: kind})
				if err != nil {
					return err
				}
			}
			return e.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "run %s: v%d on %s/%s in %dms, %d tokens, $%.6f\n\n%s\n",
					r.ID, r.Version, r.Provider, r.Model, r.LatencyMs, r.TotalTokens, r.CostUSD, r.Output)
				if ev := view.Evaluation; ev != nil {
					fmt.Fprintf(w, "\n%s score: %.3f\n", ev.Kind, ev.Score)
				}
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().IntVar(&req.Version, "version", 0, "version to run (default: latest)")
	cmd.Flags().StringVar(&req.Input, "input", "", "user message sent after the prompt")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "LLM provider (default: configured provider)")
	cmd.Flags().StringVar(&req.Model, "model", "", "model (default: configured model)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&req.MaxTokens, "max-tokens", 0, "output token limit")
	cmd.Flags().StringVar(&req.ReasoningEffort, "reasoning-effort", "", "reasoning effort for reasoning models")
	cmd.Flags().StringVar(&kind, "evaluate", "", "score the output: criteria, metrics, checklist or judge")
	cmd.Flags().StringVar(&reference, "reference", "", "reference text for metrics")
	return cmd
}

func newCheckCmd(e *env) *cobra.Command {
	var (
		ref     promptRef
		version int
		items   []string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Score a version against the prompt checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.services(ctx)
			if err != nil {
				return err
			}
			id, err := ref.resolve(ctx, a)
			if err != nil {
				return err
			}
			v, res, err := a.Prompts.Checklist(ctx, id, version, items)
			if err != nil {
				return err
			}
			data := map[string]any{"prompt_id": id, "version": v.Version, "result": res}
			return e.print(cmd, data, func(w io.Writer) {
				fmt.Fprintf(w, "v%d score: %.1f\n", v.Version, res.Score)
				for _, label := range res.Passed {
					fmt.Fprintf(w, "  [x] %s\n", label)
				}
				for _, label := range res.Failed {
					fmt.Fprintf(w, "  [ ] %s\n", label)
				}
				for _, note := range res.Notes {
					fmt.Fprintf(w, "  - %s\n", note)
				}
			})
		},
	}
	ref.bind(cmd)
	cmd.Flags().IntVar(&version, "version", 0, "version to check (default: latest)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "checklist label (repeatable, default: built-in checklist)")
	return cmd
}
