package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cmdutil"
	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/scm"
)

func newAffectedCmd(helper *cmdutil.Helper, jsonOutput *bool) *cobra.Command {
	var useGit bool
	var base string

	cmd := &cobra.Command{
		Use:   "affected [paths...]",
		Short: "Print the set of packages affected by a set of changed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdBase, err := helper.GetCmdBase()
			if err != nil {
				printError(err, *jsonOutput)
				return err
			}

			repoRoot := cmdBase.Config.RepoRoot.ToString()

			var changed []string
			if useGit {
				source, scmErr := scm.NewFallback(cmdBase.Config.RepoRoot)
				if scmErr != nil {
					cmdBase.Logger.Warn("affected", "warning", scmErr)
				}
				changed, err = source.ChangedFiles(base, "HEAD", repoRoot)
				if err != nil {
					printError(err, *jsonOutput)
					return err
				}
			} else {
				changed = args
			}

			for _, name := range cmdBase.Graph.Affected(seedPackages(repoRoot, cmdBase.Packages, changed)) {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useGit, "git", false, "Compute changed files from git instead of positional paths")
	cmd.Flags().StringVar(&base, "base", "", "Git ref to diff against (working tree if empty)")
	return cmd
}

// seedPackages maps changed file paths, relative to repoRoot, to the names
// of the packages whose directory contains them.
func seedPackages(repoRoot string, packages map[string]*manifest.Package, changed []string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, rel := range changed {
		abs := rel
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(repoRoot, rel)
		}
		for name, pkg := range packages {
			if seen[name] {
				continue
			}
			dir := pkg.Dir.ToString()
			if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}
