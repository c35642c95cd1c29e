// Package executor builds the per-(package, task) execution DAG and walks
// it with a bounded pool of workers, per spec.md §4.7.
package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/util"
)

// UnknownPackageError is a configuration error (spec.md §4.7 "2" exit code).
type UnknownPackageError struct {
	Name string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("executor: unknown package %q", e.Name)
}

// taskGraph is the execution DAG over (package, task) vertices.
type taskGraph struct {
	// deps[id] lists the vertex ids that id depends on.
	deps map[string][]string
	// dependents is the reverse of deps.
	dependents map[string][]string
	ids        []string // all vertex ids, sorted
}

// buildTaskGraph constructs the execution DAG for task in every package of
// selected, and transitively for whatever vertices rule (b) pulls in, per
// spec.md §4.7:
//
//	(package, t) depends on:
//	  (a) (package, u) for every u in task.depends_on within the same package
//	  (b) (dep, t) for every dep in package.internal_deps, if dep also
//	      defines task t (otherwise the edge is skipped)
func buildTaskGraph(packages map[string]*manifest.Package, selected []string, task string) (*taskGraph, error) {
	g := &taskGraph{
		deps:       map[string][]string{},
		dependents: map[string][]string{},
	}

	var queue []string
	for _, name := range selected {
		if _, ok := packages[name]; !ok {
			return nil, &UnknownPackageError{Name: name}
		}
		queue = append(queue, util.GetTaskId(name, task))
	}

	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		pkgName, taskName := util.GetPackageTaskFromId(id)
		pkg, ok := packages[pkgName]
		if !ok {
			return nil, &UnknownPackageError{Name: pkgName}
		}
		if _, ok := g.deps[id]; !ok {
			g.deps[id] = nil
		}

		t, hasTask := pkg.Tasks[taskName]
		if !hasTask {
			continue
		}

		for _, upstream := range t.DependsOn {
			depID := util.GetTaskId(pkgName, upstream)
			g.addEdge(id, depID)
			queue = append(queue, depID)
		}

		for _, depPkgName := range pkg.InternalDeps {
			depPkg, ok := packages[depPkgName]
			if !ok {
				return nil, &UnknownPackageError{Name: depPkgName}
			}
			if !depPkg.HasTask(taskName) {
				continue
			}
			depID := util.GetTaskId(depPkgName, taskName)
			g.addEdge(id, depID)
			queue = append(queue, depID)
		}
	}

	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	g.ids = ids

	return g, nil
}

func (g *taskGraph) addEdge(from, to string) {
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
	if _, ok := g.deps[to]; !ok {
		g.deps[to] = nil
	}
}

// CycleError reports a cyclic dependency among (package, task) vertices,
// e.g. a task whose depends_on chain loops back on itself.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("executor: cyclic task dependency: %s", strings.Join(e.Path, " -> "))
}

// validateAcyclic runs Kahn's algorithm over the vertex set; a remainder of
// unprocessed vertices after the queue drains means a cycle exists. It then
// re-walks from one such vertex to report a concrete cycle path.
func (g *taskGraph) validateAcyclic() error {
	indegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indegree[id] = len(g.deps[id])
	}

	queue := make([]string, 0, len(g.ids))
	for _, id := range g.ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range g.dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
		sort.Strings(queue)
	}

	if processed == len(g.ids) {
		return nil
	}

	for _, id := range g.ids {
		if indegree[id] > 0 {
			return &CycleError{Path: g.findCyclePath(id, indegree)}
		}
	}
	return &CycleError{Path: g.ids}
}

// findCyclePath walks g.deps from start, always stepping to a dependency
// left unprocessed by the topological sort (indegree > 0), until it
// revisits a vertex, returning the loop as an ordered path.
func (g *taskGraph) findCyclePath(start string, indegree map[string]int) []string {
	visited := map[string]int{}
	order := []string{start}
	visited[start] = 0
	cur := start
	for {
		next := ""
		for _, dep := range g.deps[cur] {
			if indegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return order
		}
		if idx, seen := visited[next]; seen {
			return append(order[idx:], next)
		}
		visited[next] = len(order)
		order = append(order, next)
		cur = next
	}
}
