package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
)

func newScanCmd(helper *cmdutil.Helper, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Discover packages and print the package set",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase()
			if err != nil {
				printError(err, *jsonOutput)
				return err
			}
			for _, name := range base.Graph.Names() {
				pkg := base.Packages[name]
				fmt.Printf("%s\t%s\t%s\n", pkg.Name, pkg.Language, pkg.Dir)
			}
			return nil
		},
	}
}
