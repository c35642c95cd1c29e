// Package depgraph builds the package dependency graph, detects cycles,
// computes a deterministic topological order, and answers affected-set and
// "why" queries. It is hand-rolled rather than built atop pyr-sh/dag (used
// elsewhere, by internal/util and internal/cacheitem) because this
// component needs cycle-path reporting and a Kahn's-algorithm
// name-ascending tie-break that the library doesn't expose in this shape.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polykit-dev/polykit/internal/manifest"
)

// UnknownPackageError is returned when a package lists an internal
// dependency that doesn't resolve to a known package.
type UnknownPackageError struct {
	Name      string
	Available []string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("Package not found: %s. Available packages: %s", e.Name, strings.Join(e.Available, ", "))
}

// CycleError is returned when the graph contains a cycle. Path is an
// ordered sequence of package names that starts and ends at the same node,
// each consecutive pair being an edge in the adjacency.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("Circular dependency detected: Cycle involving %s", e.Path[0])
}

// Graph is the package dependency graph: edge (u, v) means "u depends on v".
type Graph struct {
	// forward[u] is the sorted list of names u directly depends on.
	forward map[string][]string
	// reverse[v] is the sorted list of names that directly depend on v.
	reverse map[string][]string
	// names is every package name in the graph, sorted ascending.
	names []string

	topoOrder []string
}

// New builds a Graph from a package set keyed by name. It returns
// UnknownPackageError if any package names an internal dependency that
// isn't present in the set, and CycleError if the resulting graph isn't
// acyclic.
func New(packages map[string]*manifest.Package) (*Graph, error) {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	forward := make(map[string][]string, len(packages))
	reverse := make(map[string][]string, len(packages))
	for _, name := range names {
		reverse[name] = nil
	}

	for _, name := range names {
		pkg := packages[name]
		deps := make([]string, len(pkg.InternalDeps))
		copy(deps, pkg.InternalDeps)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := packages[dep]; !ok {
				return nil, &UnknownPackageError{Name: dep, Available: names}
			}
			reverse[dep] = append(reverse[dep], name)
		}
		forward[name] = deps
	}
	for _, name := range names {
		sort.Strings(reverse[name])
	}

	g := &Graph{forward: forward, reverse: reverse, names: names}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	order, err := g.computeTopoOrder()
	if err != nil {
		// computeTopoOrder only fails if a cycle slipped past findCycle;
		// that would be a bug in this package, not user input.
		return nil, err
	}
	g.topoOrder = order

	return g, nil
}

// colors for the three-color DFS cycle check.
const (
	white = iota // unvisited
	gray         // on the current DFS stack
	black        // fully explored
)

// findCycle performs an iterative depth-first walk tracking three colors;
// on finding a back edge it reconstructs and returns the offending cycle as
// an ordered path that starts and ends at the same node. Returns nil if the
// graph is acyclic.
func (g *Graph) findCycle() []string {
	color := make(map[string]int, len(g.names))
	parent := make(map[string]string, len(g.names))

	var dfs func(start string) []string
	dfs = func(start string) []string {
		type frame struct {
			node    string
			depIdx  int
			deps    []string
		}
		stack := []frame{{node: start, deps: g.forward[start]}}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.depIdx >= len(top.deps) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			next := top.deps[top.depIdx]
			top.depIdx++

			switch color[next] {
			case white:
				color[next] = gray
				parent[next] = top.node
				stack = append(stack, frame{node: next, deps: g.forward[next]})
			case gray:
				// Back edge found: reconstruct the cycle next -> ... -> top.node -> next.
				path := []string{next}
				cur := top.node
				for cur != next {
					path = append(path, cur)
					cur = parent[cur]
				}
				path = append(path, next)
				// path was built backwards from top.node to next; reverse the
				// middle section so it reads in dependency order.
				reversePath(path)
				return path
			case black:
				// already fully explored, no cycle through here
			}
		}
		return nil
	}

	for _, name := range g.names {
		if color[name] == white {
			if cycle := dfs(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func reversePath(path []string) {
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
}

// computeTopoOrder runs Kahn's algorithm over the forward adjacency, with
// ties among indegree-zero nodes broken by name ascending, producing a
// fully deterministic order. Indices respect "for every edge (u -> v),
// index(v) < index(u)": dependencies come before dependents.
func (g *Graph) computeTopoOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		indegree[name] = 0
	}
	for _, name := range g.names {
		for range g.forward[name] {
			indegree[name]++
		}
	}

	ready := make([]string, 0, len(g.names))
	for _, name := range g.names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range g.reverse[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(g.names) {
		return nil, fmt.Errorf("depgraph: topological sort failed to cover all %d nodes (cycle?)", len(g.names))
	}
	return order, nil
}

// TopoOrder returns the package names in dependency order: for every edge
// (u depends on v), v appears before u. The order is deterministic given
// identical adjacency.
func (g *Graph) TopoOrder() []string {
	out := make([]string, len(g.topoOrder))
	copy(out, g.topoOrder)
	return out
}

// DirectDeps returns the sorted list of packages that name directly depends
// on.
func (g *Graph) DirectDeps(name string) []string {
	out := make([]string, len(g.forward[name]))
	copy(out, g.forward[name])
	return out
}

// DirectDependents returns the sorted list of packages that directly depend
// on name.
func (g *Graph) DirectDependents(name string) []string {
	out := make([]string, len(g.reverse[name]))
	copy(out, g.reverse[name])
	return out
}

// Why answers the "why" query of spec.md §4.3: a package's direct
// dependencies and direct dependents, both sorted.
func (g *Graph) Why(name string) (directDeps []string, directDependents []string) {
	return g.DirectDeps(name), g.DirectDependents(name)
}

// Affected computes S ∪ descendants_in_reverse-graph(S): every package that
// depends, transitively, on anything in seeds. The result is sorted
// ascending by name.
func (g *Graph) Affected(seeds []string) []string {
	visited := make(map[string]struct{}, len(g.names))
	var visit func(name string)
	visit = func(name string) {
		if _, ok := visited[name]; ok {
			return
		}
		visited[name] = struct{}{}
		for _, dependent := range g.reverse[name] {
			visit(dependent)
		}
	}
	for _, seed := range seeds {
		visit(seed)
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Names returns every package name in the graph, sorted ascending.
func (g *Graph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}
