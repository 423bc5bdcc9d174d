// Package cli is the sparkling command line. Each invocation opens the
// configured store, runs one command and closes it again.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hirohiro424/sparkling/internal/app"
)

// Opener builds the services a command runs against.
type Opener func(ctx context.Context) (*app.App, error)

type env struct {
	open   Opener
	output string
	format OutputFormat
	app    *app.App
}

// services opens the app on first use so that --help and flag errors never
// touch the store.
func (e *env) services(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	a, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

// print writes data in the structured format, or calls text otherwise.
func (e *env) print(cmd *cobra.Command, data any, text func(w io.Writer)) error {
	if e.format.IsStructured() {
		return OutputTo(cmd.OutOrStdout(), e.format, data)
	}
	text(cmd.OutOrStdout())
	return nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "sparkling",
		Short: "Prompt notebook: define, edit, run and evaluate prompt versions",
		Long: `Sparkling keeps every prompt as an append-only history of versions.

Prompts are drafted from a goal, edited line by line, run against an LLM
and scored. Every edit and rollback appends a new version; nothing is
rewritten in place.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := ParseOutputFormat(e.output)
			if err != nil {
				return err
			}
			e.format = f
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&e.output, "output", "o", string(OutputFormatText), "output format: text, json or yaml")

	root.AddCommand(
		newDefineCmd(e),
		newEditCmd(e),
		newEvalCmd(e),
		newShowCmd(e),
		newListCmd(e),
		newDiffCmd(e),
		newRollbackCmd(e),
		newRunCmd(e),
		newCheckCmd(e),
	)
	return root
}

// Execute runs the command line in args and returns the process exit code.
// Errors are printed to stderr with a "[!]" prefix.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, open Opener) int {
	e := &env{open: open}
	root := newRootCmd(e)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if e.app != nil {
		if cerr := e.app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "[!] %v\n", err)
		return 1
	}
	return 0
}
