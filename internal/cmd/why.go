package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
)

func newWhyCmd(helper *cmdutil.Helper, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "why <package>",
		Short: "Explain why a package is in the graph: its direct dependencies and dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase()
			if err != nil {
				printError(err, *jsonOutput)
				return err
			}

			name := args[0]
			if _, ok := base.Packages[name]; !ok {
				printError(fmt.Errorf("package not found: %s", name), *jsonOutput)
				return fmt.Errorf("package not found: %s", name)
			}

			deps, dependents := base.Graph.Why(name)
			fmt.Printf("dependencies: %s\n", strings.Join(deps, ", "))
			fmt.Printf("dependents:   %s\n", strings.Join(dependents, ", "))
			return nil
		},
	}
}
