// Package release computes and applies semver bump plans across a
// package's dependents, per spec.md §4.8.
package release

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver"

	"github.com/polykit-dev/polykit/internal/adapter"
	"github.com/polykit-dev/polykit/internal/depgraph"
	"github.com/polykit-dev/polykit/internal/manifest"
)

// Bump is the granularity of a semver bump.
type Bump string

// Supported bump kinds.
const (
	Major Bump = "major"
	Minor Bump = "minor"
	Patch Bump = "patch"
)

func (b Bump) valid() bool {
	return b == Major || b == Minor || b == Patch
}

// InvalidBumpError is returned for a Bump outside {major, minor, patch}.
type InvalidBumpError struct {
	Bump Bump
}

func (e *InvalidBumpError) Error() string {
	return fmt.Sprintf("release: invalid bump %q, must be one of major, minor, patch", e.Bump)
}

// Entry is a single package's planned version change. Old and New are nil
// for a package whose language adapter reports no version concept (Go),
// which the plan lists as None -> None and Apply skips.
type Entry struct {
	Package string
	Bump    Bump
	Old     *semver.Version
	New     *semver.Version
}

// Skipped reports whether this entry has no version to write, per spec.md
// §4.8 "packages whose adapter reports no version ... are skipped during
// apply."
func (e *Entry) Skipped() bool {
	return e.Old == nil && e.New == nil
}

// String renders an entry the way `polykit release --dry-run` prints it,
// e.g. `utils: Some("0.3.0") -> 0.4.0 (Minor)`.
func (e *Entry) String() string {
	oldStr, newStr := "None", "None"
	if e.Old != nil {
		oldStr = fmt.Sprintf("Some(%q)", e.Old.String())
	}
	if e.New != nil {
		newStr = e.New.String()
	}
	return fmt.Sprintf("%s: %s -> %s (%s)", e.Package, oldStr, newStr, titleCase(string(e.Bump)))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// Plan is the full set of version changes a release computes: the target
// bumped by the requested granularity, plus every transitive dependent
// bumped by patch, in topological order (dependencies first) so Apply can
// write intermediate states consistently.
type Plan struct {
	Target  string
	Entries []*Entry
}

// Compute builds the release plan for target, per spec.md §4.8 steps 1-3.
// graph must have been built over the same packages set.
func Compute(graph *depgraph.Graph, packages map[string]*manifest.Package, target string, bump Bump) (*Plan, error) {
	if !bump.valid() {
		return nil, &InvalidBumpError{Bump: bump}
	}
	if _, ok := packages[target]; !ok {
		return nil, &depgraph.UnknownPackageError{Name: target, Available: graph.Names()}
	}

	dependents := make(map[string]bool)
	for _, name := range graph.Affected([]string{target}) {
		if name != target {
			dependents[name] = true
		}
	}

	order := graph.TopoOrder()
	entries := make([]*Entry, 0, 1+len(dependents))
	for _, name := range order {
		var entryBump Bump
		switch {
		case name == target:
			entryBump = bump
		case dependents[name]:
			entryBump = Patch
		default:
			continue
		}

		pkg := packages[name]
		entry, err := buildEntry(pkg, entryBump)
		if err != nil {
			return nil, fmt.Errorf("release: planning %s: %w", name, err)
		}
		entries = append(entries, entry)
	}

	return &Plan{Target: target, Entries: entries}, nil
}

func buildEntry(pkg *manifest.Package, bump Bump) (*Entry, error) {
	a, err := adapter.For(pkg.Language)
	if err != nil {
		return nil, err
	}
	old, err := a.ReadVersion(pkg.Dir)
	if err != nil {
		return nil, err
	}
	entry := &Entry{Package: pkg.Name, Bump: bump, Old: old}
	if old != nil {
		entry.New = bumpVersion(old, bump)
	}
	return entry, nil
}

// bumpVersion applies bump to v, stripping pre-release and build metadata,
// per spec.md §4.8 "major -> (x+1).0.0; minor -> x.(y+1).0; patch ->
// x.y.(z+1)".
func bumpVersion(v *semver.Version, bump Bump) *semver.Version {
	major, minor, patch := v.Major(), v.Minor(), v.Patch()
	switch bump {
	case Major:
		major, minor, patch = major+1, 0, 0
	case Minor:
		minor, patch = minor+1, 0
	case Patch:
		patch = patch + 1
	}
	next, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch))
	if err != nil {
		// major/minor/patch are non-negative integers formatted as %d.%d.%d,
		// always a valid semver core; this branch is unreachable.
		panic(err)
	}
	return next
}

// SortedPackages returns the names of the plan's packages in alphabetical
// order; the entries themselves carry topological order.
func (p *Plan) SortedPackages() []string {
	names := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		names[i] = e.Package
	}
	sort.Strings(names)
	return names
}
