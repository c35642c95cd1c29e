package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
)

func newListCmd(helper *cmdutil.Helper, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every package and the tasks it defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase()
			if err != nil {
				printError(err, *jsonOutput)
				return err
			}

			for _, name := range base.Graph.Names() {
				pkg := base.Packages[name]
				tasks := make([]string, 0, len(pkg.Tasks))
				for task := range pkg.Tasks {
					tasks = append(tasks, task)
				}
				sort.Strings(tasks)
				fmt.Printf("%s (%s): %s\n", pkg.Name, pkg.Language, strings.Join(tasks, ", "))
			}
			return nil
		},
	}
}
