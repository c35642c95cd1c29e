package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
)

func newGraphCmd(helper *cmdutil.Helper, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the package dependency graph in topological order",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase()
			if err != nil {
				printError(err, *jsonOutput)
				return err
			}
			for _, name := range base.Graph.TopoOrder() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
