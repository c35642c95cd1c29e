package cmdutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit-dev/polykit/internal/manifest"
)

func writePackage(t *testing.T, root string, name string, contents string) {
	t.Helper()
	dir := filepath.Join(root, "packages", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.ManifestFileName), []byte(contents), 0644))
}

func newTestHelper(t *testing.T, cwd string) *Helper {
	t.Helper()
	flags := pflag.NewFlagSet("test-flags", pflag.ContinueOnError)
	h := NewHelper("test-version")
	h.AddFlags(flags)
	h.rawCwd = cwd
	return h
}

func TestGetCmdBaseDiscoversAndGraphsPackages(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "a", "name = \"a\"\nlanguage = \"go\"\npublic = false\n")
	writePackage(t, root, "b", "name = \"b\"\nlanguage = \"go\"\npublic = false\n\n[deps]\ninternal = [\"a\"]\n")

	h := newTestHelper(t, root)
	base, err := h.GetCmdBase()
	require.NoError(t, err)
	assert.Len(t, base.Packages, 2)
	assert.Equal(t, []string{"a", "b"}, base.Graph.TopoOrder())
}

func TestGetCmdBaseRejectsUnknownInternalDep(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "a", "name = \"a\"\nlanguage = \"go\"\npublic = false\n\n[deps]\ninternal = [\"ghost\"]\n")

	h := newTestHelper(t, root)
	_, err := h.GetCmdBase()
	require.Error(t, err)
}

func TestParallelFlagOverridesGetCmdBase(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "a", "name = \"a\"\nlanguage = \"go\"\npublic = false\n")

	h := newTestHelper(t, root)
	h.parallel = 5
	base, err := h.GetCmdBase()
	require.NoError(t, err)
	assert.Equal(t, 5, base.Config.Parallelism)
}

func TestScanConcurrencyDefaultsToEight(t *testing.T) {
	h := NewHelper("test-version")
	assert.Equal(t, 8, h.scanConcurrency())
}

func TestScanConcurrencyReadsEnvVar(t *testing.T) {
	t.Setenv("POLYKIT_SCAN_CONCURRENCY", "3")
	h := NewHelper("test-version")
	assert.Equal(t, 3, h.scanConcurrency())
}

func TestStartProfilingWritesCPUProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.pprof")
	h := NewHelper("test-version")
	h.cpuProfileFile = path

	require.NoError(t, h.StartProfiling())
	h.Cleanup()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
