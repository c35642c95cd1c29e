// Package cmdutil holds the flag parsing and component wiring shared by
// every polykit subcommand, grounded on the teacher's own cmdutil.go: a
// Helper collects common flags, then GetCmdBase resolves them into the
// fully constructed components (logger, workspace, package set, graph)
// each subcommand operates on.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/polykit-dev/polykit/internal/config"
	"github.com/polykit-dev/polykit/internal/depgraph"
	"github.com/polykit-dev/polykit/internal/fingerprint"
	"github.com/polykit-dev/polykit/internal/localcache"
	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/process"
	"github.com/polykit-dev/polykit/internal/remotecache"
	adapterpkg "github.com/polykit-dev/polykit/internal/adapter"
	"github.com/polykit-dev/polykit/internal/scan"
	"github.com/polykit-dev/polykit/internal/turbopath"
	"github.com/polykit-dev/polykit/internal/validate"
)

// Helper holds the values bound by common flags, shared by every
// subcommand's FlagSet via AddFlags.
type Helper struct {
	Version string

	forceColor      bool
	noColor         bool
	verbosity       int
	rawCwd          string
	parallel        int
	continueOnError bool
	remoteCacheURL  string
	remoteCacheRO   bool
	noRemoteCache   bool
	heapFile        string
	cpuProfileFile  string
	traceFile       string

	cleanupsMu sync.Mutex
	cleanups   []func() error
}

// NewHelper constructs a Helper for the given reported version string.
func NewHelper(version string) *Helper {
	return &Helper{Version: version}
}

// AddFlags registers the flags common to every subcommand, per spec.md's
// CLI surface "Common flags".
func (h *Helper) AddFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&h.forceColor, "color", false, "Force color usage in the terminal")
	flags.BoolVar(&h.noColor, "no-color", false, "Suppress color usage in the terminal")
	flags.CountVarP(&h.verbosity, "verbosity", "v", "verbosity")
	flags.StringVar(&h.rawCwd, "cwd", "", "The directory in which to run polykit")
	flags.IntVar(&h.parallel, "parallel", 0, "Maximum number of tasks to run concurrently")
	flags.BoolVar(&h.continueOnError, "continue-on-error", false, "Keep running independent tasks after a failure")
	flags.StringVar(&h.remoteCacheURL, "remote-cache-url", "", "Base URL of the remote cache server")
	flags.BoolVar(&h.remoteCacheRO, "remote-cache-readonly", false, "Disable PUT to the remote cache")
	flags.BoolVar(&h.noRemoteCache, "no-remote-cache", false, "Disable the remote cache entirely")
	flags.StringVar(&h.heapFile, "heap", "", "Specify a file to save a pprof heap profile")
	flags.StringVar(&h.cpuProfileFile, "cpuprofile", "", "Specify a file to save a cpu profile")
	flags.StringVar(&h.traceFile, "trace", "", "Specify a file to save a pprof trace")
}

// RegisterCleanup saves a function to run after command execution, even if
// the command itself errored.
func (h *Helper) RegisterCleanup(cleanup func() error) {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	h.cleanups = append(h.cleanups, cleanup)
}

// Cleanup runs every registered cleanup, logging (not failing on) errors.
func (h *Helper) Cleanup() {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	for _, cleanup := range h.cleanups {
		if err := cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "polykit: cleanup failed: %v\n", err)
		}
	}
}

// Logger builds the hclog.Logger the helper's verbosity flags select,
// exported so subcommands that need a component wired outside GetCmdBase
// (validate's own non-fatal scan) can still share it.
func (h *Helper) Logger() hclog.Logger {
	return h.logger()
}

func (h *Helper) logger() hclog.Logger {
	level := hclog.NoLevel
	switch {
	case h.verbosity >= 3:
		level = hclog.Trace
	case h.verbosity == 2:
		level = hclog.Debug
	case h.verbosity == 1:
		level = hclog.Info
	}
	output := io.Discard
	color := hclog.ColorOff
	if level != hclog.NoLevel {
		output = os.Stderr
		color = hclog.AutoColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "polykit",
		Level:  level,
		Color:  color,
		Output: output,
	})
}

// CmdBase is the fully resolved set of components a subcommand operates on.
type CmdBase struct {
	Logger      hclog.Logger
	Config      *config.Config
	Packages    map[string]*manifest.Package
	Graph       *depgraph.Graph
	Fingerprint *fingerprint.Fingerprinter
	Local       *localcache.Store
	Remote      *remotecache.Client // nil when no remote cache is configured
	Manager     *process.Manager
	NoColor     bool
	ForceColor  bool
}

// GetCmdBase resolves a Helper's flags into a CmdBase: it locates the
// workspace root, scans packages, validates them, and builds the
// dependency graph, so every subcommand starts from the same consistent
// state.
func (h *Helper) GetCmdBase() (*CmdBase, error) {
	logger := h.logger()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cmdutil: resolving working directory: %w", err)
	}
	if h.rawCwd != "" {
		cwd = h.rawCwd
	}
	repoRoot := config.FindRepoRoot(turbopath.AbsoluteSystemPathFromUpstream(cwd))

	cfg, err := config.Load(repoRoot, config.Overrides{
		Parallel:            h.parallel,
		ContinueOnError:     h.continueOnError,
		RemoteCacheURL:      h.remoteCacheURL,
		RemoteCacheReadOnly: h.remoteCacheRO,
		NoRemoteCache:       h.noRemoteCache,
	}, logger)
	if err != nil {
		return nil, err
	}

	scanner := scan.New(cfg.Workspace, h.scanConcurrency(), logger)
	packages, scanErrs, err := scanner.Scan()
	if err != nil {
		return nil, err
	}
	for _, scanErr := range scanErrs {
		logger.Warn("scan", "error", scanErr)
	}

	if result := validate.Validate(packages); !result.OK() {
		return nil, result.Err()
	}

	graph, err := depgraph.New(packages)
	if err != nil {
		return nil, err
	}

	local, err := openLocalCache(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	var remote *remotecache.Client
	if cfg.Workspace.RemoteCache != nil {
		remote = remotecache.New(remotecache.Config{
			BaseURL:  cfg.Workspace.RemoteCache.URL,
			Token:    cfg.RemoteCacheToken,
			ReadOnly: cfg.Workspace.RemoteCache.ReadOnly,
		}, logger)
	}

	fp := fingerprint.New(packages, envWhitelist(cfg.Workspace), inputGlobs(cfg.Workspace), adapterpkg.ToolchainVersion)

	killSignal, killGrace := process.TerminateThenKill()

	return &CmdBase{
		Logger:      logger,
		Config:      cfg,
		Packages:    packages,
		Graph:       graph,
		Fingerprint: fp,
		Local:       local,
		Remote:      remote,
		Manager:     process.NewManagerWithGrace(logger, killSignal, killGrace),
		NoColor:     h.noColor,
		ForceColor:  h.forceColor,
	}, nil
}

// scanConcurrency defaults to 8 (spec.md §4.1's min(cpus, 8) suggestion,
// simplified to a flat default since cpu count isn't itself part of the
// spec's fingerprint surface), overridable via POLYKIT_SCAN_CONCURRENCY for
// constrained CI runners.
func (h *Helper) scanConcurrency() int {
	raw := os.Getenv("POLYKIT_SCAN_CONCURRENCY")
	if raw == "" {
		return 8
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 8
	}
	return n
}

// openLocalCache opens the workspace's configured cache directory, falling
// back to a directory under the user's home when the workspace-relative
// path can't be created (e.g. a read-only checkout).
func openLocalCache(ws *manifest.Workspace) (*localcache.Store, error) {
	store, err := localcache.New(ws.AbsoluteCacheDir())
	if err == nil {
		return store, nil
	}

	fallback, homeErr := config.UserHomeCacheDir(".polykit/cache")
	if homeErr != nil {
		return nil, err
	}
	return localcache.New(turbopath.AbsoluteSystemPathFromUpstream(fallback))
}

func envWhitelist(ws *manifest.Workspace) []string {
	if ws.RemoteCache != nil {
		return ws.RemoteCache.EnvVarsWhitelist
	}
	return nil
}

func inputGlobs(ws *manifest.Workspace) []string {
	if ws.RemoteCache != nil {
		return ws.RemoteCache.InputGlobs
	}
	return nil
}
