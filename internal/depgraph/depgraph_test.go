package depgraph

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit-dev/polykit/internal/manifest"
)

func pkgSet(deps map[string][]string) map[string]*manifest.Package {
	out := make(map[string]*manifest.Package, len(deps))
	for name, d := range deps {
		out[name] = &manifest.Package{Name: name, InternalDeps: d}
	}
	return out
}

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestNew_TopoOrder_ScenarioA(t *testing.T) {
	// a, b, c with b -> a, c -> b: graph.go should print a, b, c in that order.
	packages := pkgSet(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	g, err := New(packages)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, g.TopoOrder())
}

func TestNew_TopoOrder_Deterministic(t *testing.T) {
	packages := pkgSet(map[string][]string{
		"a": nil,
		"b": nil,
		"c": {"a", "b"},
	})
	g1, err := New(packages)
	require.NoError(t, err)
	g2, err := New(packages)
	require.NoError(t, err)
	assert.Equal(t, g1.TopoOrder(), g2.TopoOrder())
}

func TestNew_TopoOrder_Soundness(t *testing.T) {
	packages := pkgSet(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a", "b"},
		"d": {"c"},
	})
	g, err := New(packages)
	require.NoError(t, err)
	order := g.TopoOrder()
	for _, name := range g.Names() {
		for _, dep := range g.DirectDeps(name) {
			assert.Less(t, indexOf(order, dep), indexOf(order, name),
				"%s depends on %s so %s must come first", name, dep, dep)
		}
	}
}

func TestNew_Cycle_ScenarioB(t *testing.T) {
	packages := pkgSet(map[string][]string{
		"x": {"y"},
		"y": {"x"},
	})
	_, err := New(packages)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	assert.Contains(t, err.Error(), "Circular dependency detected")
}

func TestNew_UnknownDependency_ScenarioC(t *testing.T) {
	packages := pkgSet(map[string][]string{
		"a": {"ghost"},
	})
	_, err := New(packages)
	require.Error(t, err)
	assert.Equal(t, "Package not found: ghost. Available packages: a", err.Error())
}

func TestAffected_Closure(t *testing.T) {
	// a <- b <- c (b depends on a, c depends on b); d is unrelated.
	packages := pkgSet(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
		"d": nil,
	})
	g, err := New(packages)
	require.NoError(t, err)

	affected := g.Affected([]string{"a"})
	assert.Equal(t, []string{"a", "b", "c"}, affected)
}

func TestWhy(t *testing.T) {
	packages := pkgSet(map[string][]string{
		"utils": nil,
		"api":   {"utils"},
	})
	g, err := New(packages)
	require.NoError(t, err)

	deps, dependents := g.Why("utils")
	assert.Empty(t, deps)
	assert.Equal(t, []string{"api"}, dependents)
}

func TestCycleDetection_Completeness(t *testing.T) {
	// a -> b -> c -> a
	packages := pkgSet(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})
	_, err := New(packages)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)

	path := cycleErr.Path
	require.True(t, len(path) >= 2)
	assert.Equal(t, path[0], path[len(path)-1])

	// each consecutive pair must be an edge in the adjacency
	edges := map[string]map[string]bool{
		"a": {"b": true},
		"b": {"c": true},
		"c": {"a": true},
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, edges[path[i]][path[i+1]], "missing edge %s -> %s", path[i], path[i+1])
	}
}

func TestNames_Sorted(t *testing.T) {
	packages := pkgSet(map[string][]string{"b": nil, "a": nil, "c": nil})
	g, err := New(packages)
	require.NoError(t, err)
	names := g.Names()
	assert.True(t, sort.StringsAreSorted(names))
}
