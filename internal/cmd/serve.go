package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit-dev/polykit/internal/cacheserver"
	"github.com/polykit-dev/polykit/internal/cmdutil"
	"github.com/polykit-dev/polykit/internal/config"
	"github.com/polykit-dev/polykit/internal/signals"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// newServeCmd runs the remote cache server described by spec.md §4.6. It
// isn't part of spec.md's CLI surface list (that section covers only the
// client-facing commands); it's the process that hosts the HTTP endpoint
// every `--remote-cache-url` flag above points a polykit client at, so the
// module needs some command to start it.
func newServeCmd(helper *cmdutil.Helper) *cobra.Command {
	var addr string
	var dir string
	var maxSize int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a remote cache server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := helper.Logger()

			cacheDir := turbopath.AbsoluteSystemPathFromUpstream(dir)
			if dir == "" {
				home, err := config.UserHomeCacheDir(".polykit/server")
				if err != nil {
					return err
				}
				cacheDir = turbopath.AbsoluteSystemPathFromUpstream(home)
			}
			if err := cacheDir.MkdirAll(0755); err != nil {
				return err
			}

			server := cacheserver.New(cacheDir, maxSize, logger)
			watcher := signals.NewWatcher()
			defer watcher.Close()

			fmt.Printf("polykit: serving remote cache on %s (dir=%s)\n", addr, cacheDir)
			return cacheserver.Run(addr, server, watcher)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to store artifacts in (defaults under the user's home)")
	cmd.Flags().Int64Var(&maxSize, "max-artifact-size", 0, "Maximum artifact size in bytes (0 uses the default)")
	return cmd
}
