package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/livedb/internal/harness"
	"github.com/roach88/livedb/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Dir keeps the sqlite and bolt files of each scenario under
	// Dir/<scenario name>. Empty runs in memory.
	Dir string

	// Filter selects scenarios by name (glob pattern).
	Filter string
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string                   `json:"name"`
	File    string                   `json:"file"`
	Pass    bool                     `json:"pass"`
	Errors  []string                 `json:"errors,omitempty"`
	Queries map[string][]ir.IRObject `json:"queries,omitempty"`
}

// RunResult holds the overall result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>...",
		Short: "Run scenarios against live queries",
		Long: `Run YAML scenarios: open and seed the collections they declare, start
their live queries, apply each step and check the results.

Arguments are scenario files or directories of them.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, invalid scenarios, etc.)

Examples:
  livedb run ./scenarios
  livedb run ./scenarios --filter "todo_*"
  livedb run board.yaml --dir ./data --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory for scenario databases (default in memory)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name (glob pattern)")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	dir := opts.setting("dir", opts.Dir)
	filter := opts.setting("filter", opts.Filter)

	files, err := findScenarioFiles(paths)
	if err != nil {
		return outputValidateError(formatter, loadErrorCode(err), err.Error())
	}

	// Stop between scenarios on interrupt; the current one finishes.
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := RunResult{Scenarios: []ScenarioResult{}}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return WrapExitError(ExitFailure, "interrupted", err)
		}

		s, err := harness.LoadScenario(file)
		if err != nil {
			return outputValidateError(formatter, ErrCodeScenario, fmt.Sprintf("%s: %v", file, err))
		}
		if filter != "" {
			if ok, err := filepath.Match(filter, s.Name); err != nil {
				return outputValidateError(formatter, ErrCodeGeneric, fmt.Sprintf("invalid filter: %v", err))
			} else if !ok {
				continue
			}
		}

		formatter.VerboseLog("Running %s (%s)", s.Name, file)
		sr, err := runScenario(ctx, opts, s, dir)
		if err != nil {
			return outputValidateError(formatter, ErrCodeScenario, fmt.Sprintf("%s: %v", s.Name, err))
		}
		sr.File = file

		result.Scenarios = append(result.Scenarios, sr)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.Format == "json" {
		if result.Failed > 0 {
			if err := formatter.Failure(ErrCodeScenario, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total), result); err != nil {
				return err
			}
		} else if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputRunText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

func runScenario(ctx context.Context, opts *RunOptions, s *harness.Scenario, dir string) (ScenarioResult, error) {
	runOpts := []harness.Option{harness.WithLogger(opts.Logger())}
	if dir != "" {
		scenarioDir := filepath.Join(dir, s.Name)
		if err := os.MkdirAll(scenarioDir, 0o755); err != nil {
			return ScenarioResult{}, err
		}
		runOpts = append(runOpts, harness.WithDir(scenarioDir))
	}

	r, err := harness.Run(ctx, s, runOpts...)
	if err != nil {
		return ScenarioResult{}, err
	}
	return ScenarioResult{
		Name:    s.Name,
		Pass:    r.Pass,
		Errors:  r.Errors,
		Queries: r.State.Queries,
	}, nil
}

// findScenarioFiles expands directories into the YAML files under them.
func findScenarioFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scenario path not found: %s", p)}
		}
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", p, err)}
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := FindFiles(p, ".yaml", ".yml")
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: "no scenario files found"}
	}
	return files, nil
}

func outputRunText(f *OutputFormatter, result RunResult) {
	for _, s := range result.Scenarios {
		if s.Pass {
			fmt.Fprintf(f.Writer, "✓ %s\n", s.Name)
		} else {
			fmt.Fprintf(f.Writer, "✗ %s\n", s.Name)
			for _, e := range s.Errors {
				fmt.Fprintf(f.Writer, "    %s\n", e)
			}
		}
		if f.Verbose {
			for _, name := range sortedNames(s.Queries) {
				rows, err := ir.MarshalCanonical(rowValues(s.Queries[name]))
				if err != nil {
					continue
				}
				fmt.Fprintf(f.Writer, "    %s: %s\n", name, rows)
			}
		}
	}
	fmt.Fprintf(f.Writer, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}

func rowValues(rows []ir.IRObject) ir.IRArray {
	out := make(ir.IRArray, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func sortedNames(m map[string][]ir.IRObject) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// commandContext returns the command context, Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
