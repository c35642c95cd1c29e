// Package config resolves a single polykit invocation's configuration:
// the workspace root, its polykit.toml, and the remote-cache overrides
// layered flags > env > config file > default, the same precedence the
// teacher's config.go documents for its own settings.
package config

import (
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-hclog"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// EnvPrefix is the prefix viper reads workspace overrides under, e.g.
// POLYKIT_REMOTE_CACHE_URL for RemoteCacheURL.
const EnvPrefix = "POLYKIT"

// Overrides holds the flag-supplied values that take precedence over
// environment variables and polykit.toml, per the CLI surface in spec.md
// "Common flags".
type Overrides struct {
	Parallel            int
	ContinueOnError     bool
	RemoteCacheURL      string
	RemoteCacheReadOnly bool
	NoRemoteCache       bool
}

// Config is the fully resolved configuration handed to every subcommand.
type Config struct {
	Logger          hclog.Logger
	RepoRoot        turbopath.AbsoluteSystemPath
	Workspace       *manifest.Workspace
	Parallelism     int
	ContinueOnError bool
	RemoteCacheToken string
}

// FindRepoRoot walks upward from cwd looking for polykit.toml. If none is
// found, cwd itself is treated as the workspace root (ParseWorkspaceManifest
// tolerates a missing manifest and falls back to defaults).
func FindRepoRoot(cwd turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	found, err := cwd.Findup(turbopath.RelativeSystemPathFromUpstream(manifest.ManifestFileName))
	if err != nil || found == "" {
		return cwd
	}
	return found.Dir()
}

// Load resolves a Config for repoRoot, applying overrides on top of
// polykit.toml and POLYKIT_* environment variables.
func Load(repoRoot turbopath.AbsoluteSystemPath, overrides Overrides, logger hclog.Logger) (*Config, error) {
	ws, err := manifest.ParseWorkspaceManifest(repoRoot)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("remote_cache_url", "")
	v.SetDefault("remote_cache_read_only", false)
	v.SetDefault("parallel", 0)

	if ws.RemoteCache != nil {
		v.SetDefault("remote_cache_url", ws.RemoteCache.URL)
		v.SetDefault("remote_cache_read_only", ws.RemoteCache.ReadOnly)
	}

	remoteCacheURL := v.GetString("remote_cache_url")
	remoteCacheReadOnly := v.GetBool("remote_cache_read_only")
	if overrides.RemoteCacheURL != "" {
		remoteCacheURL = overrides.RemoteCacheURL
	}
	if overrides.RemoteCacheReadOnly {
		remoteCacheReadOnly = true
	}
	if overrides.NoRemoteCache {
		remoteCacheURL = ""
	}

	if remoteCacheURL != "" {
		ws.RemoteCache = &manifest.RemoteCacheConfig{
			URL:              remoteCacheURL,
			ReadOnly:         remoteCacheReadOnly,
			EnvVarsWhitelist: envVarsWhitelist(ws),
			InputGlobs:       inputGlobs(ws),
			MaxArtifactSize:  maxArtifactSize(ws),
		}
	} else {
		ws.RemoteCache = nil
	}

	parallel := ws.DefaultParallel
	if envParallel := v.GetInt("parallel"); envParallel > 0 {
		parallel = envParallel
	}
	if overrides.Parallel > 0 {
		parallel = overrides.Parallel
	}

	return &Config{
		Logger:           logger,
		RepoRoot:         repoRoot,
		Workspace:        ws,
		Parallelism:      parallel,
		ContinueOnError:  overrides.ContinueOnError,
		RemoteCacheToken: remoteCacheToken(),
	}, nil
}

func envVarsWhitelist(ws *manifest.Workspace) []string {
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

func maxArtifactSize(ws *manifest.Workspace) int64 {
	if ws.RemoteCache != nil && ws.RemoteCache.MaxArtifactSize > 0 {
		return ws.RemoteCache.MaxArtifactSize
	}
	return manifest.DefaultMaxArtifactSize
}

// remoteCacheToken reads a bearer token for the remote cache from
// POLYKIT_TOKEN, falling back to a user-level credentials file at
// $XDG_CONFIG_HOME/polykit/credentials, the same split the teacher's
// config_file.go makes between a repo config and a user config.
func remoteCacheToken() string {
	if tok := os.Getenv(EnvPrefix + "_TOKEN"); tok != "" {
		return tok
	}
	path, err := xdg.ConfigFile("polykit/credentials")
	if err != nil {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// UserHomeCacheDir returns the user's home directory joined with name, used
// as a last-resort fallback location when XDG paths are unavailable (e.g. a
// minimal container without $HOME set to a writable path).
func UserHomeCacheDir(name string) (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return dir + string(os.PathSeparator) + name, nil
}
