// Package adapter implements the closed language-adapter interface named
// in spec.md §9 Design Notes: one variant per supported language, each
// knowing how to detect itself, read and write a version file, and report
// its default task-output paths and toolchain version. There is no plugin
// discovery; the set of languages is fixed.
package adapter

import (
	"github.com/Masterminds/semver"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// Adapter is implemented once per manifest.Language.
type Adapter interface {
	// LanguageTag returns the manifest.Language this adapter serves.
	LanguageTag() manifest.Language
	// Detect reports whether dir looks like a package of this language.
	Detect(dir turbopath.AbsoluteSystemPath) bool
	// ReadVersion returns the package's current version, or nil if this
	// language has no version concept (e.g. go).
	ReadVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error)
	// WriteVersion rewrites the package's version file in place.
	WriteVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error
	// DefaultOutputPaths lists the paths, relative to dir, packed into a
	// cache artifact when a task doesn't declare its own outputs.
	DefaultOutputPaths() []string
	// ToolchainVersion reports the version of the installed toolchain,
	// e.g. the output of `go version` or `node --version`.
	ToolchainVersion() (string, error)
}

// registry is the closed set of adapters, keyed by language.
var registry = map[manifest.Language]Adapter{
	manifest.LanguageJS:     jsAdapter{},
	manifest.LanguageTS:     tsAdapter{},
	manifest.LanguagePython: pythonAdapter{},
	manifest.LanguageGo:     goAdapter{},
	manifest.LanguageRust:   rustAdapter{},
}

// For returns the adapter for lang. lang is always one of the closed set
// manifest.ValidLanguages enumerates, so this never fails in practice; an
// error is returned defensively rather than panicking.
func For(lang manifest.Language) (Adapter, error) {
	a, ok := registry[lang]
	if !ok {
		return nil, &UnknownLanguageError{Language: lang}
	}
	return a, nil
}

// UnknownLanguageError is returned by For for a language outside the
// closed set.
type UnknownLanguageError struct {
	Language manifest.Language
}

func (e *UnknownLanguageError) Error() string {
	return "adapter: unknown language " + string(e.Language)
}

// ToolchainVersion resolves pkg's toolchain version via its adapter. Shaped
// to satisfy fingerprint.ToolchainVersionFunc directly.
func ToolchainVersion(pkg *manifest.Package) (string, error) {
	a, err := For(pkg.Language)
	if err != nil {
		return "", err
	}
	return a.ToolchainVersion()
}

// DefaultOutputPaths resolves a package's default output globs via its
// adapter, for tasks that don't declare their own Outputs.
func DefaultOutputPaths(pkg *manifest.Package) ([]string, error) {
	a, err := For(pkg.Language)
	if err != nil {
		return nil, err
	}
	return a.DefaultOutputPaths(), nil
}
