// Package validate checks a discovered package set for structural and
// referential integrity before it is handed to the dependency graph or the
// task executor.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/polykit-dev/polykit/internal/manifest"
)

// Diagnostic is a single validation failure.
type Diagnostic struct {
	Package string
	Message string
}

func (d Diagnostic) String() string {
	if d.Package == "" {
		return d.Message
	}
	return fmt.Sprintf("%s: %s", d.Package, d.Message)
}

// Result holds the diagnostics produced by Validate. Zero diagnostics means
// "valid", matching spec.md §4.2.
type Result struct {
	Diagnostics []Diagnostic
}

// OK reports whether no diagnostics were produced.
func (r Result) OK() bool {
	return len(r.Diagnostics) == 0
}

// Err renders the result as a single aggregate error, or nil if valid.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	var merr *multierror.Error
	for _, d := range r.Diagnostics {
		merr = multierror.Append(merr, fmt.Errorf("%s", d.String()))
	}
	return merr.ErrorOrNil()
}

// Validate runs every check from spec.md §4.2, in order, against the given
// package set, keyed by name. It never stops at the first failure: all
// diagnostics for all packages are collected and returned together.
func Validate(packages map[string]*manifest.Package) Result {
	var diags []Diagnostic

	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pkg := packages[name]
		diags = append(diags, validatePackage(pkg, packages)...)
	}

	return Result{Diagnostics: diags}
}

func validatePackage(pkg *manifest.Package, all map[string]*manifest.Package) []Diagnostic {
	var diags []Diagnostic

	if !manifest.NamePattern.MatchString(pkg.Name) {
		diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("invalid package name %q", pkg.Name)})
	}
	if !manifest.ValidLanguages[pkg.Language] {
		diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("unknown language %q", pkg.Language)})
	}

	taskNames := make([]string, 0, len(pkg.Tasks))
	for taskName := range pkg.Tasks {
		taskNames = append(taskNames, taskName)
	}
	sort.Strings(taskNames)

	for _, taskName := range taskNames {
		if !manifest.NamePattern.MatchString(taskName) {
			diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("invalid task name %q", taskName)})
		}
		task := pkg.Tasks[taskName]
		if strings.ContainsRune(task.Command, 0) {
			diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("task %q command contains a NUL byte", taskName)})
		}
		if strings.ContainsAny(task.Command, "\n\r") {
			diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("task %q command contains an embedded newline", taskName)})
		}
		for _, dep := range task.DependsOn {
			if dep == taskName {
				diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("task %q depends on itself", taskName)})
				continue
			}
			if !pkg.HasTask(dep) {
				diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("task %q depends_on unknown task %q", taskName, dep)})
			}
		}
	}

	for _, dep := range pkg.InternalDeps {
		if dep == pkg.Name {
			diags = append(diags, Diagnostic{pkg.Name, "package lists itself as an internal dependency"})
			continue
		}
		if _, ok := all[dep]; !ok {
			diags = append(diags, Diagnostic{pkg.Name, fmt.Sprintf("internal dependency %q does not resolve to a known package", dep)})
		}
	}

	return diags
}
