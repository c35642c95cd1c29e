package executor

import (
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// collectOutputs walks pkg.Dir and returns every file matching one of
// patterns (relative to pkg.Dir, may use "**"), converted to paths anchored
// at workspaceRoot so they can be packed into a cacheitem artifact. extra
// is appended unconditionally, for files (like the captured task log) that
// always belong in the artifact regardless of the declared output globs.
func collectOutputs(workspaceRoot turbopath.AbsoluteSystemPath, pkg *manifest.Package, patterns []string, extra ...turbopath.AbsoluteSystemPath) ([]turbopath.AnchoredSystemPath, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, g)
	}

	var matches []turbopath.AbsoluteSystemPath
	if pkg.Dir.DirExists() {
		err := godirwalk.Walk(pkg.Dir.ToString(), &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if de.IsDir() {
					return nil
				}
				rel, relErr := filepath.Rel(pkg.Dir.ToString(), path)
				if relErr != nil {
					return nil
				}
				rel = filepath.ToSlash(rel)
				for _, m := range matchers {
					if m.Match(rel) {
						matches = append(matches, turbopath.AbsoluteSystemPathFromUpstream(path))
						return nil
					}
				}
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
	}

	matches = append(matches, extra...)

	seen := map[string]bool{}
	anchored := make([]turbopath.AnchoredSystemPath, 0, len(matches))
	for _, abs := range matches {
		if seen[abs.ToString()] {
			continue
		}
		seen[abs.ToString()] = true
		rel, err := abs.RelativeTo(workspaceRoot)
		if err != nil {
			return nil, err
		}
		anchored = append(anchored, rel)
	}
	sort.Slice(anchored, func(i, j int) bool { return anchored[i].ToString() < anchored[j].ToString() })
	return anchored, nil
}
