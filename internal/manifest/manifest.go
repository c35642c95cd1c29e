// Package manifest holds the in-memory package and workspace data model:
// the structs produced by a scan and consumed by every other component.
package manifest

import (
	"regexp"
	"sort"
	"time"

	"github.com/polykit-dev/polykit/internal/turbopath"
)

// Language is the source language of a package, closed over the set this
// system knows how to build release adapters for.
type Language string

// Supported languages.
const (
	LanguageJS     Language = "js"
	LanguageTS     Language = "ts"
	LanguagePython Language = "python"
	LanguageGo     Language = "go"
	LanguageRust   Language = "rust"
)

// ValidLanguages is the closed set of recognized Language values.
var ValidLanguages = map[Language]bool{
	LanguageJS:     true,
	LanguageTS:     true,
	LanguagePython: true,
	LanguageGo:     true,
	LanguageRust:   true,
}

// NamePattern is the accepted charset for package and task names: it must
// not begin with '.' or '-'.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_@][A-Za-z0-9_.@-]*$`)

// Task is a single named unit of work belonging to a Package.
type Task struct {
	// Command is the exact shell command string handed to the subprocess.
	Command string
	// DependsOn names other tasks on the *same* package that must complete
	// first. Cross-package task dependencies are not representable here.
	DependsOn []string
	// Outputs is the list of paths, relative to the package directory, that
	// are packaged into the cache artifact on success. Empty means the
	// language adapter's default output paths apply.
	Outputs []string
}

// Package is a single buildable unit discovered by the scanner.
type Package struct {
	// Name uniquely identifies this package across the workspace.
	Name string
	// Dir is the absolute path to the package's directory.
	Dir turbopath.AbsoluteSystemPath
	// Language is the package's source language.
	Language Language
	// Public indicates whether the package is intended to be published.
	Public bool
	// InternalDeps is the ordered, deduplicated list of package names this
	// package depends on.
	InternalDeps []string
	// Tasks maps task name to its definition.
	Tasks map[string]Task
	// Mtimes maps each manifest file this package was parsed from (its
	// polykit.toml plus the language-native metadata file, when present) to
	// the modification time observed at scan time.
	Mtimes map[string]time.Time
	// ToolchainVersion is an opaque string captured at scan time, typically
	// the version reported by the language's toolchain (`go version`,
	// `node --version`, etc.).
	ToolchainVersion string
}

// TaskNames returns the package's task names, sorted ascending.
func (p *Package) TaskNames() []string {
	names := make([]string, 0, len(p.Tasks))
	for name := range p.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTask reports whether the package defines the named task.
func (p *Package) HasTask(name string) bool {
	_, ok := p.Tasks[name]
	return ok
}

// RemoteCacheConfig configures the optional HTTP remote cache.
type RemoteCacheConfig struct {
	// URL is the base URL of the remote cache server.
	URL string
	// ReadOnly disables PUT (store) operations when true.
	ReadOnly bool
	// EnvVarsWhitelist lists environment variable names that are both
	// forwarded to task subprocesses and folded into the fingerprint.
	EnvVarsWhitelist []string
	// InputGlobs lists glob patterns, relative to a package directory, whose
	// matching files are folded into the fingerprint. Empty means the
	// language adapter's default globs apply.
	InputGlobs []string
	// MaxArtifactSize is the largest artifact, in bytes, the client will
	// attempt to store or the server will accept.
	MaxArtifactSize int64
}

// DefaultMaxArtifactSize is applied when a workspace doesn't specify one.
const DefaultMaxArtifactSize int64 = 1 << 30 // 1,073,741,824 bytes

// DefaultCacheDir is applied when a workspace doesn't specify cache_dir.
const DefaultCacheDir = ".polykit/cache"

// Workspace is the root configuration of a polyglot monorepo.
type Workspace struct {
	// Root is the absolute path to the workspace root.
	Root turbopath.AbsoluteSystemPath
	// CacheDir is relative to Root.
	CacheDir string
	// DefaultParallel is the default worker count for the task executor.
	DefaultParallel int
	// RemoteCache is nil when no remote cache is configured.
	RemoteCache *RemoteCacheConfig
}

// AbsoluteCacheDir returns the workspace's cache directory as an absolute
// path.
func (w *Workspace) AbsoluteCacheDir() turbopath.AbsoluteSystemPath {
	cacheDir := w.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}
	return w.Root.Join(turbopath.RelativeSystemPathFromUpstream(cacheDir))
}
