package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
	"github.com/polykit-dev/polykit/internal/config"
	"github.com/polykit-dev/polykit/internal/scan"
	"github.com/polykit-dev/polykit/internal/turbopath"
	"github.com/polykit-dev/polykit/internal/validate"
)

// newValidateCmd reports structural diagnostics without the fatal abort
// GetCmdBase applies for every other subcommand: an invalid workspace is
// exactly what this subcommand exists to surface, not a reason to bail.
func newValidateCmd(helper *cmdutil.Helper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report structural and referential diagnostics for the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			repoRoot := config.FindRepoRoot(turbopath.AbsoluteSystemPathFromUpstream(cwd))
			cfg, err := config.Load(repoRoot, config.Overrides{}, helper.Logger())
			if err != nil {
				printError(err, false)
				return err
			}

			scanner := scan.New(cfg.Workspace, 8, helper.Logger())
			packages, scanErrs, err := scanner.Scan()
			if err != nil {
				printError(err, false)
				return err
			}
			for _, scanErr := range scanErrs {
				fmt.Println(scanErr)
			}

			result := validate.Validate(packages)
			if result.OK() {
				fmt.Println("valid")
				return nil
			}
			for _, diag := range result.Diagnostics {
				fmt.Println(diag.String())
			}
			return result.Err()
		},
	}
}
