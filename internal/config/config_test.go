package config

import (
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

func writeManifest(t *testing.T, root turbopath.AbsoluteSystemPath, contents string) {
	t.Helper()
	require.NoError(t, root.UntypedJoin(manifest.ManifestFileName).WriteFile([]byte(contents), 0644))
}

func TestFindRepoRootLocatesManifest(t *testing.T) {
	root := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	writeManifest(t, root, "")
	nested := root.UntypedJoin("packages", "a")
	require.NoError(t, nested.MkdirAll(0755))

	found := FindRepoRoot(nested)
	assert.Equal(t, root.ToString(), found.ToString())
}

func TestFindRepoRootFallsBackToCwd(t *testing.T) {
	cwd := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	found := FindRepoRoot(cwd)
	assert.Equal(t, cwd.ToString(), found.ToString())
}

func TestLoadFlagOverridesBeatManifest(t *testing.T) {
	root := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	writeManifest(t, root, "[workspace]\ndefault_parallel = 2\n")

	cfg, err := Load(root, Overrides{Parallel: 9}, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Parallelism)
}

func TestLoadManifestParallelIsUsedWithoutOverride(t *testing.T) {
	root := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	writeManifest(t, root, "[workspace]\ndefault_parallel = 3\n")

	cfg, err := Load(root, Overrides{}, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Parallelism)
}

func TestLoadNoRemoteCacheOverrideClearsURL(t *testing.T) {
	root := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	writeManifest(t, root, "[remote_cache]\nurl = \"https://cache.example.com\"\n")

	cfg, err := Load(root, Overrides{NoRemoteCache: true}, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Nil(t, cfg.Workspace.RemoteCache)
}

func TestRemoteCacheTokenReadsEnvVar(t *testing.T) {
	t.Setenv("POLYKIT_TOKEN", "secret-token")
	assert.Equal(t, "secret-token", remoteCacheToken())
}

func TestUserHomeCacheDirJoinsHome(t *testing.T) {
	dir, err := UserHomeCacheDir(".polykit/cache")
	require.NoError(t, err)
	assert.Contains(t, dir, ".polykit/cache")
	_ = os.Getenv("HOME")
}
