package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/livedb/internal/compiler"
	"github.com/roach88/livedb/internal/harness"
	"github.com/roach88/livedb/internal/query"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Queries []string
}

// ExplainedQuery is the plan of one query.
type ExplainedQuery struct {
	Name string `json:"name"`
	Plan string `json:"plan"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <definitions>",
		Short: "Print query plans",
		Long: `Print the plan of each query in CUE definitions.

The collections are opened and seeded first, so the plans show which
predicates use declared indexes and which sources are scanned.

Examples:
  livedb explain ./defs
  livedb explain todos.cue --query open --query perOwner`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Queries, "query", "q", nil, "queries to explain (default all)")

	return cmd
}

func runExplain(opts *ExplainOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loaded, err := LoadDefinitions(path)
	if err != nil {
		return outputValidateError(formatter, loadErrorCode(err), err.Error())
	}
	defs := loaded.Defs
	if errs := compiler.Validate(defs); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	names := opts.Queries
	if len(names) == 0 {
		names = defs.QueryNames()
	}
	if len(names) == 0 {
		return outputValidateError(formatter, ErrCodeNoQueries, fmt.Sprintf("no queries in %s", path))
	}
	for _, name := range names {
		if !slices.Contains(defs.QueryNames(), name) {
			return outputValidateError(formatter, ErrCodeNoQueries, fmt.Sprintf("unknown query %q", name))
		}
	}

	ctx := commandContext(cmd)
	env, err := harness.OpenEnv(ctx, defs, harness.EnvOptions{Logger: opts.Logger()})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open collections", err)
	}
	defer func() {
		if err := env.Close(); err != nil {
			opts.Logger().Warn("closing collections", "error", err)
		}
	}()

	built, err := defs.BuildAll(env.Sources)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build queries", err)
	}

	out := make([]ExplainedQuery, 0, len(names))
	for _, name := range names {
		plan, err := query.Compile(built[name])
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("query %s", name), err)
		}
		out = append(out, ExplainedQuery{Name: name, Plan: plan.Explain()})
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	for i, q := range out {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprintf(formatter.Writer, "query %s\n%s", q.Name, q.Plan)
	}
	return nil
}
