package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
	"github.com/polykit-dev/polykit/internal/release"
)

func newReleaseCmd(helper *cmdutil.Helper) *cobra.Command {
	var bump string
	var dryRun bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "release <package>",
		Short: "Plan and apply a semver release across a package and its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase()
			if err != nil {
				printError(err, false)
				return err
			}

			target := args[0]
			plan, err := release.ComputeWithSpinner(os.Stderr, base.Graph, base.Packages, target, release.Bump(bump))
			if err != nil {
				printError(err, false)
				return err
			}

			for _, entry := range plan.Entries {
				fmt.Println(entry.String())
			}

			if dryRun {
				return nil
			}

			if !yes {
				ok, err := release.Confirm(plan)
				if err != nil {
					printError(err, false)
					return err
				}
				if !ok {
					fmt.Println("release: aborted")
					return nil
				}
			}

			if err := plan.Apply(base.Packages); err != nil {
				printError(err, false)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bump, "bump", "", "Bump granularity for the target package: major, minor, or patch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without writing any version")
	cmd.Flags().BoolVar(&yes, "yes", false, "Apply without an interactive confirmation")
	cmd.MarkFlagRequired("bump")
	return cmd
}
