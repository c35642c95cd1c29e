package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
	"github.com/polykit-dev/polykit/internal/executor"
	"github.com/polykit-dev/polykit/internal/util"
)

// taskFailedError reports that one or more vertices of a run ended Failed,
// per spec.md §4.7's exit code 1.
type taskFailedError struct {
	Task     string
	Failures []string
}

func (e *taskFailedError) Error() string {
	return fmt.Sprintf("task %q failed for: %v", e.Task, e.Failures)
}

// newRunCmd builds the build/test subcommands, which share everything but
// the task name being executed.
func newRunCmd(helper *cmdutil.Helper, taskName string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   taskName + " [packages...]",
		Short: fmt.Sprintf("Run the %q task across the dependency graph", taskName),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase()
			if err != nil {
				printError(err, jsonOutput)
				return err
			}

			selected := args
			if len(selected) == 0 {
				selected = base.Graph.Names()
			}

			result, err := executor.Run(context.Background(), executor.Options{
				Workspace:       base.Config.Workspace,
				Packages:        base.Packages,
				Selected:        selected,
				Task:            taskName,
				Parallelism:     base.Config.Parallelism,
				ContinueOnError: base.Config.ContinueOnError,
				Fingerprinter:   base.Fingerprint,
				Local:           base.Local,
				Remote:          base.Remote,
				Manager:         base.Manager,
				Logger:          base.Logger,
				Stdout:          os.Stdout,
				NoColor:         base.NoColor,
				ForceColor:      base.ForceColor,
			})
			if err != nil {
				printError(err, jsonOutput)
				return err
			}

			printRunSummary(result)

			if result.ExitCode() != 0 {
				failedErr := &taskFailedError{Task: taskName, Failures: failedVertices(result)}
				printError(failedErr, jsonOutput)
				return failedErr
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON output")
	return cmd
}

func failedVertices(result *executor.Result) []string {
	var failed []string
	for id, v := range result.Vertices {
		if v.Status == util.VertexFailed {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	return failed
}

func printRunSummary(result *executor.Result) {
	for _, id := range result.Order {
		v := result.Vertices[id]
		fmt.Printf("%s: %s\n", id, v.Status)
	}
}
