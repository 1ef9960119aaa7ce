package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/monorelease/internal/workspace"
)

func pkg(name string, deps ...string) workspace.Package {
	return workspace.Package{Name: name, Version: "1.0.0", Dir: "packages/" + name, Dependencies: deps}
}

func build(t *testing.T, pkgs ...workspace.Package) *Graph {
	t.Helper()
	g, err := Build(context.Background(), pkgs)
	require.NoError(t, err)
	return g
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode(pkg("a"))
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.pkg.Name)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode(workspace.Package{Name: "a", Version: "9.9.9"}) // Test idempotency
	assert.Len(t, g.nodes, 1)
	assert.Equal(t, "1.0.0", g.nodes["a"].pkg.Version)

	g.AddNode(pkg("b"))
	assert.Len(t, g.nodes, 2)
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode(pkg("a"))
		g.AddNode(pkg("b"))

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)

		assert.Contains(t, g.nodes["a"].dependents, "b")
		assert.Contains(t, g.nodes["b"].deps, "a")
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode(pkg("a"))

		assert.ErrorContains(t, g.AddEdge("dne", "a"), "dependency package not found")
		assert.ErrorContains(t, g.AddEdge("a", "dne"), "dependent package not found")
		assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential edge")
	})
}

func TestBuild(t *testing.T) {
	t.Run("keeps only workspace edges", func(t *testing.T) {
		ui := pkg("ui", "core", "react")
		ui.DevDependencies = []string{"testkit", "jest"}
		g := build(t, pkg("core"), ui, pkg("testkit"), pkg("self", "self"))

		deps, err := g.Dependencies("ui")
		require.NoError(t, err)
		assert.Equal(t, []string{"core", "testkit"}, deps)

		dependents, err := g.Dependents("core")
		require.NoError(t, err)
		assert.Equal(t, []string{"ui"}, dependents)

		deps, err = g.Dependencies("self")
		require.NoError(t, err)
		assert.Empty(t, deps)

		assert.Equal(t, []string{"core", "self", "testkit", "ui"}, g.Names())
	})

	t.Run("is deterministic", func(t *testing.T) {
		pkgs := []workspace.Package{pkg("a"), pkg("b", "a"), pkg("c", "a", "b")}
		g1 := build(t, pkgs...)
		g2 := build(t, pkgs...)
		for _, name := range g1.Names() {
			d1, _ := g1.Dependents(name)
			d2, _ := g2.Dependents(name)
			assert.Equal(t, d1, d2)
		}
	})

	t.Run("duplicate names are rejected", func(t *testing.T) {
		_, err := Build(context.Background(), []workspace.Package{pkg("a"), pkg("a")})
		assert.ErrorContains(t, err, `duplicate package name "a"`)
	})

	t.Run("unknown package lookups fail", func(t *testing.T) {
		g := build(t, pkg("a"))
		_, err := g.Dependents("zzz")
		assert.ErrorContains(t, err, "package not found")
		_, ok := g.Package("zzz")
		assert.False(t, ok)
	})
}

func TestDependentsClosure(t *testing.T) {
	// core <- util <- app, core <- ui, docs is unrelated
	g := build(t, pkg("core"), pkg("util", "core"), pkg("app", "util"), pkg("ui", "core"), pkg("docs"))

	got, err := g.DependentsClosure([]string{"core"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "core", "ui", "util"}, got)

	got, err = g.DependentsClosure([]string{"util", "docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "docs", "util"}, got)

	_, err = g.DependentsClosure([]string{"missing"})
	assert.Error(t, err)
}

func TestOrder(t *testing.T) {
	t.Run("levels respect every edge", func(t *testing.T) {
		// diamond: core <- (left, right) <- top, plus a long arm core <- a1 <- a2 <- top
		g := build(t,
			pkg("core"),
			pkg("left", "core"),
			pkg("right", "core"),
			pkg("a1", "core"),
			pkg("a2", "a1"),
			pkg("top", "left", "right", "a2"),
		)
		order, err := g.Order([]string{"core"})
		require.NoError(t, err)

		want := []Entry{
			{Name: "core", Level: 0},
			{Name: "a1", Level: 1},
			{Name: "left", Level: 1},
			{Name: "right", Level: 1},
			{Name: "a2", Level: 2},
			{Name: "top", Level: 3},
		}
		assert.Equal(t, want, order)

		level := make(map[string]int)
		for _, e := range order {
			_, seen := level[e.Name]
			require.False(t, seen, "%s appears twice", e.Name)
			level[e.Name] = e.Level
		}
		for _, name := range g.Names() {
			deps, _ := g.Dependencies(name)
			for _, d := range deps {
				assert.Greater(t, level[name], level[d], "%s depends on %s", name, d)
			}
		}
	})

	t.Run("seed is extended with dependents only", func(t *testing.T) {
		g := build(t, pkg("core"), pkg("ui", "core"), pkg("tool"))
		order, err := g.Order([]string{"ui"})
		require.NoError(t, err)
		assert.Equal(t, []Entry{{Name: "ui", Level: 0}}, order)
	})

	t.Run("dependencies outside the closure do not count", func(t *testing.T) {
		// app depends on both lib (seeded) and base (not seeded)
		g := build(t, pkg("base"), pkg("lib"), pkg("app", "lib", "base"))
		order, err := g.Order([]string{"lib"})
		require.NoError(t, err)
		assert.Equal(t, []Entry{{Name: "lib", Level: 0}, {Name: "app", Level: 1}}, order)
	})

	t.Run("empty seed", func(t *testing.T) {
		g := build(t, pkg("core"))
		order, err := g.Order(nil)
		require.NoError(t, err)
		assert.Empty(t, order)
	})

	t.Run("unknown seed", func(t *testing.T) {
		g := build(t, pkg("core"))
		_, err := g.Order([]string{"nope"})
		assert.ErrorContains(t, err, "package not found: nope")
	})
}

func TestOrder_Cycles(t *testing.T) {
	t.Run("simple direct cycle names exactly its members", func(t *testing.T) {
		g := build(t, pkg("A", "B"), pkg("B", "A"), pkg("C"))
		_, err := g.Order([]string{"A", "B", "C"})

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"A", "B"}, cycleErr.Names)
		assert.Empty(t, cycleErr.Blocked)
		assert.ErrorContains(t, err, "dependency cycle detected among packages: A, B")
	})

	t.Run("packages downstream of a cycle are reported as blocked", func(t *testing.T) {
		g := build(t, pkg("A", "B"), pkg("B", "A"), pkg("D", "A"), pkg("F", "D"), pkg("root"), pkg("E", "root"))
		_, err := g.Order([]string{"A", "root"})

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"A", "B"}, cycleErr.Names)
		assert.Equal(t, []string{"D", "F"}, cycleErr.Blocked)
		assert.EqualError(t, err, "dependency cycle detected among packages: A, B (blocked: D, F)")
	})

	t.Run("longer cycle is detected", func(t *testing.T) {
		g := build(t, pkg("a", "d"), pkg("b", "a"), pkg("c", "b"), pkg("d", "c"))
		_, err := g.Order([]string{"a"})

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"a", "b", "c", "d"}, cycleErr.Names)
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := build(t, pkg("a"), pkg("b", "a"), pkg("x"), pkg("y", "x", "z"), pkg("z", "y"))
		_, err := g.Order([]string{"a", "x"})

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"y", "z"}, cycleErr.Names)
	})
}
