package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

func makePackage(t *testing.T, name string, command string, files map[string]string) *manifest.Package {
	t.Helper()
	dir := t.TempDir()
	for relPath, contents := range files {
		full := filepath.Join(dir, relPath)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(contents), 0644))
	}
	return &manifest.Package{
		Name:     name,
		Dir:      turbopath.AbsoluteSystemPathFromUpstream(dir),
		Language: manifest.LanguageGo,
		Tasks: map[string]manifest.Task{
			"build": {Command: command},
		},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	pkg := makePackage(t, "a", "go build ./...", map[string]string{"main.go": "package main"})
	packages := map[string]*manifest.Package{"a": pkg}

	fp1 := New(packages, nil, []string{"**/*.go"}, nil)
	fp2 := New(packages, nil, []string{"**/*.go"}, nil)

	k1, err := fp1.Fingerprint("a", "build")
	require.NoError(t, err)
	k2, err := fp2.Fingerprint("a", "build")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestFingerprint_ChangesOnCommand(t *testing.T) {
	pkg := makePackage(t, "a", "go build ./...", map[string]string{"main.go": "package main"})
	packages := map[string]*manifest.Package{"a": pkg}
	fp := New(packages, nil, []string{"**/*.go"}, nil)
	k1, err := fp.Fingerprint("a", "build")
	require.NoError(t, err)

	pkg2 := makePackage(t, "a", "go build -v ./...", map[string]string{"main.go": "package main"})
	packages2 := map[string]*manifest.Package{"a": pkg2}
	fp2 := New(packages2, nil, []string{"**/*.go"}, nil)
	k2, err := fp2.Fingerprint("a", "build")
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestFingerprint_ChangesOnInputByte(t *testing.T) {
	pkg := makePackage(t, "a", "go build ./...", map[string]string{"main.go": "package main"})
	packages := map[string]*manifest.Package{"a": pkg}
	fp := New(packages, nil, []string{"**/*.go"}, nil)
	k1, err := fp.Fingerprint("a", "build")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(pkg.Dir.ToString(), "main.go"), []byte("package main\n\nfunc main() {}"), 0644))
	fp2 := New(packages, nil, []string{"**/*.go"}, nil)
	k2, err := fp2.Fingerprint("a", "build")
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestFingerprint_EnvVarAbsentVsEmpty(t *testing.T) {
	pkg := makePackage(t, "a", "go build ./...", map[string]string{"main.go": "package main"})
	packages := map[string]*manifest.Package{"a": pkg}

	os.Unsetenv("POLYKIT_TEST_VAR")
	fpAbsent := New(packages, []string{"POLYKIT_TEST_VAR"}, []string{"**/*.go"}, nil)
	kAbsent, err := fpAbsent.Fingerprint("a", "build")
	require.NoError(t, err)

	os.Setenv("POLYKIT_TEST_VAR", "")
	defer os.Unsetenv("POLYKIT_TEST_VAR")
	fpEmpty := New(packages, []string{"POLYKIT_TEST_VAR"}, []string{"**/*.go"}, nil)
	kEmpty, err := fpEmpty.Fingerprint("a", "build")
	require.NoError(t, err)

	assert.NotEqual(t, kAbsent, kEmpty)
}

func TestFingerprint_DependencyPropagation(t *testing.T) {
	utils := makePackage(t, "utils", "go build ./...", map[string]string{"u.go": "package utils"})
	api := makePackage(t, "api", "go build ./...", map[string]string{"a.go": "package api"})
	api.InternalDeps = []string{"utils"}

	packages := map[string]*manifest.Package{"utils": utils, "api": api}
	fp := New(packages, nil, []string{"**/*.go"}, nil)
	k1, err := fp.Fingerprint("api", "build")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(utils.Dir.ToString(), "u.go"), []byte("package utils\n\nfunc F() {}"), 0644))
	fp2 := New(packages, nil, []string{"**/*.go"}, nil)
	k2, err := fp2.Fingerprint("api", "build")
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2, "changing a dependency's source must change the dependent's fingerprint")
}
