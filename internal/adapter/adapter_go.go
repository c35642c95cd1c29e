package adapter

import (
	"github.com/Masterminds/semver"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// goAdapter handles Go modules. Go modules have no package-level version
// file: module versions come from VCS tags, outside this system's reach, so
// ReadVersion always reports none and WriteVersion is a no-op error per
// spec.md §4.8 "packages whose adapter reports no version ... are listed in
// the plan with None → None and skipped during apply".
type goAdapter struct{}

func (goAdapter) LanguageTag() manifest.Language { return manifest.LanguageGo }

func (goAdapter) Detect(dir turbopath.AbsoluteSystemPath) bool {
	return dir.UntypedJoin("go.mod").FileExists()
}

func (goAdapter) ReadVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error) {
	return nil, nil
}

func (goAdapter) WriteVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error {
	return &UnsupportedOperationError{Language: manifest.LanguageGo, Op: "write_version"}
}

func (goAdapter) DefaultOutputPaths() []string {
	return []string{"bin/**"}
}

func (goAdapter) ToolchainVersion() (string, error) {
	return runVersionCmd("go", "version")
}

// UnsupportedOperationError is returned when an adapter is asked to perform
// an operation its language has no concept of (e.g. writing a Go module's
// version).
type UnsupportedOperationError struct {
	Language manifest.Language
	Op       string
}

func (e *UnsupportedOperationError) Error() string {
	return "adapter: " + string(e.Language) + " does not support " + e.Op
}
