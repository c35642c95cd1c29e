package release

import (
	"fmt"
	"io"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/briandowns/spinner"

	"github.com/polykit-dev/polykit/internal/adapter"
	"github.com/polykit-dev/polykit/internal/depgraph"
	"github.com/polykit-dev/polykit/internal/manifest"
)

// ComputeWithSpinner wraps Compute with a terminal spinner labeled per
// package while its adapter is queried for a current version, per
// SPEC_FULL.md's briandowns/spinner wiring for C10's adapter-query UX.
func ComputeWithSpinner(w io.Writer, graph *depgraph.Graph, packages map[string]*manifest.Package, target string, bump Bump) (*Plan, error) {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Writer = w
	s.Suffix = fmt.Sprintf(" querying versions for %s and its dependents", target)
	s.Start()
	defer s.Stop()

	return Compute(graph, packages, target, bump)
}

// ApplyError reports that applying a plan stopped partway through: Applied
// lists the packages successfully written before Cause aborted the rest,
// per spec.md §4.8 step 4 "any adapter failure aborts the remaining writes
// and reports which entries were applied."
type ApplyError struct {
	Applied []string
	Cause   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("release: apply aborted after writing %v: %v", e.Applied, e.Cause)
}

func (e *ApplyError) Unwrap() error {
	return e.Cause
}

// Confirm prompts the user to confirm applying a non-dry-run plan, per the
// survey.Confirm pattern used for turborepo's own "enable remote caching?"
// prompt.
func Confirm(p *Plan) (bool, error) {
	ok := false
	err := survey.AskOne(
		&survey.Confirm{
			Message: fmt.Sprintf("Apply %d version change(s) starting from %s?", len(p.Entries), p.Target),
			Default: false,
		},
		&ok, survey.WithValidator(survey.Required),
	)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Apply writes every non-skipped entry's new version via its language
// adapter, in the plan's topological (dependencies-first) order, per
// spec.md §4.8 step 4.
func (p *Plan) Apply(packages map[string]*manifest.Package) error {
	applied := make([]string, 0, len(p.Entries))
	for _, entry := range p.Entries {
		if entry.Skipped() {
			continue
		}
		pkg := packages[entry.Package]
		a, err := adapter.For(pkg.Language)
		if err != nil {
			return &ApplyError{Applied: applied, Cause: err}
		}
		if err := a.WriteVersion(pkg.Dir, entry.New); err != nil {
			return &ApplyError{Applied: applied, Cause: fmt.Errorf("writing version for %s: %w", entry.Package, err)}
		}
		applied = append(applied, entry.Package)
	}
	return nil
}
