// Package scan walks a workspace's packages directory, parses package
// manifests, and maintains a persisted, incrementally-invalidated snapshot
// of the result (spec.md §4.1).
package scan

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/karrick/godirwalk"
	"github.com/nightlyone/lockfile"
	"golang.org/x/sync/errgroup"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// PackagesDirName is the directory, relative to the workspace root, that is
// walked for package manifests.
const PackagesDirName = "packages"

// languageMetadataFile maps a package's declared language to the
// language-native metadata file whose mtime is also tracked for
// invalidation purposes, per spec.md §4.1.
var languageMetadataFile = map[manifest.Language]string{
	manifest.LanguageJS:     "package.json",
	manifest.LanguageTS:     "package.json",
	manifest.LanguagePython: "pyproject.toml",
	manifest.LanguageGo:     "go.mod",
	manifest.LanguageRust:   "Cargo.toml",
}

// PackageError records a non-fatal failure to parse a single package's
// manifest. The package is excluded from the result but the overall scan
// continues, per spec.md §4.1 "Errors".
type PackageError struct {
	Dir turbopath.AbsoluteSystemPath
	Err error
}

func (e *PackageError) Error() string {
	return "scan: " + e.Dir.ToString() + ": " + e.Err.Error()
}

// DuplicateNameError is fatal: two packages claim the same name.
type DuplicateNameError struct {
	Name string
	Dirs []string
}

func (e *DuplicateNameError) Error() string {
	return "scan: duplicate package name " + e.Name + " at " + e.Dirs[0] + " and " + e.Dirs[1]
}

// Scanner discovers and incrementally re-parses packages under a
// workspace's packages directory.
type Scanner struct {
	workspace   *manifest.Workspace
	concurrency int
	logger      hclog.Logger
}

// New constructs a Scanner. concurrency is the worker-pool size for
// manifest parsing; spec.md §4.1 suggests min(cpus, 8) as a typical
// default.
func New(ws *manifest.Workspace, concurrency int, logger hclog.Logger) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{workspace: ws, concurrency: concurrency, logger: logger.Named("scan")}
}

// Scan performs an incremental scan: load the persisted snapshot (if its
// schema tag matches), stat every candidate package directory, reuse cached
// records whose manifest mtimes are unchanged, reparse the rest, drop
// directories no longer present on disk, and persist the result atomically.
//
// Returns the discovered package set, any non-fatal per-package errors, and
// a fatal error for problems such as a duplicate name.
func (s *Scanner) Scan() (map[string]*manifest.Package, []error, error) {
	cacheDir := s.workspace.AbsoluteCacheDir()
	snapshotPath := cacheDir.Join(turbopath.RelativeSystemPathFromUpstream(SnapshotFileName))

	if err := cacheDir.MkdirAll(0755); err != nil {
		return nil, nil, err
	}

	lock, err := lockfile.New(filepath.Join(cacheDir.ToString(), SnapshotFileName+".lock"))
	if err == nil {
		if lockErr := lock.TryLock(); lockErr == nil {
			defer lock.Unlock() //nolint:errcheck
		} else {
			s.logger.Info("another polykit process holds the scan lock, proceeding without it", "error", lockErr)
		}
	}

	previous, ok := loadSnapshot(snapshotPath)
	if !ok {
		previous = map[string]*manifest.Package{}
	}

	candidates, err := s.discoverCandidates()
	if err != nil {
		return nil, nil, err
	}

	type result struct {
		pkg *manifest.Package
		err error
	}
	results := make([]result, len(candidates))

	g := new(errgroup.Group)
	sem := make(chan struct{}, s.concurrency)
	for i, dir := range candidates {
		i, dir := i, dir
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			pkg, cached, parseErr := s.resolvePackage(dir, previous)
			if parseErr != nil {
				results[i] = result{err: &PackageError{Dir: dir, Err: parseErr}}
				return nil
			}
			_ = cached
			results[i] = result{pkg: pkg}
			return nil
		})
	}
	// errgroup.Group.Wait only ever returns non-nil if a Go func returns a
	// non-nil error; this loop never does, so any error here is unexpected.
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	packages := make(map[string]*manifest.Package, len(results))
	var nonFatal []error
	for _, r := range results {
		if r.err != nil {
			nonFatal = append(nonFatal, r.err)
			continue
		}
		if existing, dup := packages[r.pkg.Name]; dup {
			return nil, nil, &DuplicateNameError{
				Name: r.pkg.Name,
				Dirs: []string{existing.Dir.ToString(), r.pkg.Dir.ToString()},
			}
		}
		packages[r.pkg.Name] = r.pkg
	}

	if err := saveSnapshot(snapshotPath, packages); err != nil {
		s.logger.Warn("failed to persist scan snapshot", "error", err)
	}

	return packages, nonFatal, nil
}

// discoverCandidates walks <workspace>/packages for directories containing
// a polykit.toml, using godirwalk for a fast recursive walk. The directory
// name is always PackagesDirName; it cannot be configured.
func (s *Scanner) discoverCandidates() ([]turbopath.AbsoluteSystemPath, error) {
	root := s.workspace.Root.Join(turbopath.RelativeSystemPathFromUpstream(PackagesDirName))
	if _, err := os.Stat(root.ToString()); os.IsNotExist(err) {
		return nil, nil
	}

	var dirs []turbopath.AbsoluteSystemPath
	err := godirwalk.Walk(root.ToString(), &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if filepath.Base(path) != manifest.ManifestFileName {
				return nil
			}
			dirs = append(dirs, turbopath.AbsoluteSystemPathFromUpstream(filepath.Dir(path)))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].ToString() < dirs[j].ToString() })
	return dirs, nil
}

// resolvePackage returns the package for dir, reusing the cached record
// from previous if every tracked manifest file's mtime is unchanged.
func (s *Scanner) resolvePackage(dir turbopath.AbsoluteSystemPath, previous map[string]*manifest.Package) (pkg *manifest.Package, reused bool, err error) {
	manifestPath := dir.Join(turbopath.RelativeSystemPathFromUpstream(manifest.ManifestFileName))

	fresh, err := manifest.ParsePackageManifest(manifestPath)
	if err != nil {
		return nil, false, err
	}

	mtimes := map[string]time.Time{}
	if info, statErr := os.Stat(manifestPath.ToString()); statErr == nil {
		mtimes[manifestPath.ToString()] = info.ModTime()
	}
	if metaFile, ok := languageMetadataFile[fresh.Language]; ok {
		metaPath := dir.Join(turbopath.RelativeSystemPathFromUpstream(metaFile))
		if info, statErr := os.Stat(metaPath.ToString()); statErr == nil {
			mtimes[metaPath.ToString()] = info.ModTime()
		}
	}
	fresh.Mtimes = mtimes

	if cached, ok := previous[fresh.Name]; ok && mtimesEqual(cached.Mtimes, mtimes) {
		cached.Dir = fresh.Dir
		return cached, true, nil
	}

	return fresh, false, nil
}

func mtimesEqual(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for path, t := range a {
		other, ok := b[path]
		if !ok || !t.Equal(other) {
			return false
		}
	}
	return true
}
