package adapter

import (
	"fmt"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

func TestForKnownLanguages(t *testing.T) {
	for lang := range manifest.ValidLanguages {
		a, err := For(lang)
		require.NoError(t, err)
		assert.Equal(t, lang, a.LanguageTag())
	}
}

func TestForUnknownLanguage(t *testing.T) {
	_, err := For(manifest.Language("cobol"))
	assert.Error(t, err)
	var unknown *UnknownLanguageError
	assert.ErrorAs(t, err, &unknown)
}

func TestJSVersionRoundTrip(t *testing.T) {
	dir := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	require.NoError(t, dir.UntypedJoin("package.json").WriteFile([]byte(`{"name":"pkg","version":"1.2.3"}`), 0644))

	a := jsAdapter{}
	assert.True(t, a.Detect(dir))

	v, err := a.ReadVersion(dir)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "1.2.3", v.String())

	bumped, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()+1))
	require.NoError(t, err)
	require.NoError(t, a.WriteVersion(dir, bumped))

	reread, err := a.ReadVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.2.4", reread.String())
}

func TestGoAdapterHasNoVersion(t *testing.T) {
	dir := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	require.NoError(t, dir.UntypedJoin("go.mod").WriteFile([]byte("module example.com/thing\n"), 0644))

	a := goAdapter{}
	assert.True(t, a.Detect(dir))

	v, err := a.ReadVersion(dir)
	require.NoError(t, err)
	assert.Nil(t, v)

	err = a.WriteVersion(dir, nil)
	assert.Error(t, err)
	var unsupported *UnsupportedOperationError
	assert.ErrorAs(t, err, &unsupported)
}

func TestPythonVersionRoundTrip(t *testing.T) {
	dir := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	require.NoError(t, dir.UntypedJoin("pyproject.toml").WriteFile([]byte("[project]\nname = \"pkg\"\nversion = \"0.1.0\"\n"), 0644))

	a := pythonAdapter{}
	v, err := a.ReadVersion(dir)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "0.1.0", v.String())
}
