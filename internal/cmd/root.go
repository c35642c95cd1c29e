// Package cmd holds the root cobra command for polykit and wires every
// subcommand named in spec.md's CLI surface, grounded on the teacher's
// own cmd/root.go shape (a cobra root plus one package per subcommand).
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
	"github.com/polykit-dev/polykit/internal/depgraph"
	"github.com/polykit-dev/polykit/internal/executor"
	"github.com/polykit-dev/polykit/internal/release"
)

// RunWithArgs runs polykit with the specified arguments (not including the
// binary name) and returns the process exit code, per spec.md §4.7 "Exit
// codes at the process level".
func RunWithArgs(args []string, version string) int {
	helper := cmdutil.NewHelper(version)
	root := newRootCmd(helper)
	root.SetArgs(args)
	defer helper.Cleanup()

	err := root.Execute()
	return exitCodeForErr(err)
}

// exitCodeForErr maps an error from any subcommand to the process-level
// exit code spec.md §4.7 defines: 0 success, 1 a task failed, 2 a
// configuration error (cycle, unknown package, invalid release bump, invalid
// manifest reported as validation diagnostics).
func exitCodeForErr(err error) int {
	if err == nil {
		return 0
	}

	var unknownPkg *depgraph.UnknownPackageError
	var cycle *depgraph.CycleError
	var execUnknownPkg *executor.UnknownPackageError
	var execCycle *executor.CycleError
	var invalidBump *release.InvalidBumpError
	var diagErr *multierror.Error
	var taskFailed *taskFailedError
	switch {
	case errors.As(err, &unknownPkg), errors.As(err, &cycle),
		errors.As(err, &execUnknownPkg), errors.As(err, &execCycle),
		errors.As(err, &invalidBump), errors.As(err, &diagErr):
		return 2
	case errors.As(err, &taskFailed):
		return 1
	}
	return 1
}

func newRootCmd(helper *cmdutil.Helper) *cobra.Command {
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "polykit",
		Short:         "Task orchestrator for polyglot monorepos",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       helper.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return helper.StartProfiling()
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	flags := root.PersistentFlags()
	helper.AddFlags(flags)
	flags.BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON output")

	root.AddCommand(newScanCmd(helper, &jsonOutput))
	root.AddCommand(newGraphCmd(helper, &jsonOutput))
	root.AddCommand(newAffectedCmd(helper, &jsonOutput))
	root.AddCommand(newRunCmd(helper, "build"))
	root.AddCommand(newRunCmd(helper, "test"))
	root.AddCommand(newReleaseCmd(helper))
	root.AddCommand(newWhyCmd(helper, &jsonOutput))
	root.AddCommand(newValidateCmd(helper))
	root.AddCommand(newListCmd(helper, &jsonOutput))
	root.AddCommand(newServeCmd(helper))

	return root
}

// printError renders err to stderr, either as plain prefixed text or as
// the JSON error shape spec.md §7 specifies.
func printError(err error, jsonOutput bool) {
	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "polykit: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "{\"error\":{\"kind\":%q,\"message\":%q}}\n", errorKind(err), err.Error())
}

func errorKind(err error) string {
	var unknownPkg *depgraph.UnknownPackageError
	var cycle *depgraph.CycleError
	var execUnknownPkg *executor.UnknownPackageError
	var execCycle *executor.CycleError
	switch {
	case errors.As(err, &unknownPkg), errors.As(err, &execUnknownPkg):
		return "UnknownPackage"
	case errors.As(err, &cycle), errors.As(err, &execCycle):
		return "CycleDetected"
	default:
		return "Error"
	}
}
