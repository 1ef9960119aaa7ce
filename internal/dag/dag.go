package dag

import (
	"fmt"
	"sort"

	"github.com/vk/monorelease/internal/workspace"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a package to the graph. If a package with the same name
// already exists, the function does nothing.
func (g *Graph) AddNode(pkg workspace.Package) {
	if _, ok := g.nodes[pkg.Name]; ok {
		return
	}

	g.nodes[pkg.Name] = &node{
		pkg:        pkg,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge records that dependent depends on dependency. An error is returned
// if either package does not exist or if the edge would create a
// self-reference.
func (g *Graph) AddEdge(dependency, dependent string) error {
	if dependency == dependent {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", dependency, dependency)
	}

	fromNode, ok := g.nodes[dependency]
	if !ok {
		return fmt.Errorf("dependency package not found: %s", dependency)
	}

	toNode, ok := g.nodes[dependent]
	if !ok {
		return fmt.Errorf("dependent package not found: %s", dependent)
	}

	toNode.deps[dependency] = fromNode
	fromNode.dependents[dependent] = toNode

	return nil
}

// Has reports whether name is a workspace package.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Package returns the package registered under name.
func (g *Graph) Package(name string) (workspace.Package, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return workspace.Package{}, false
	}
	return n.pkg, true
}

// Names returns every package name, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of packages.
func (g *Graph) Len() int { return len(g.nodes) }

// Dependencies returns the sorted names of the in-workspace packages that
// name depends on.
func (g *Graph) Dependencies(name string) ([]string, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("package not found: %s", name)
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted names of the in-workspace packages that
// depend on name.
func (g *Graph) Dependents(name string) ([]string, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("package not found: %s", name)
	}
	return sortedKeys(n.dependents), nil
}

// DependentsClosure returns seed plus every package that transitively depends
// on a seed member, sorted. It walks an explicit work-list rather than
// recursing.
func (g *Graph) DependentsClosure(seed []string) ([]string, error) {
	visited := make(map[string]bool, len(seed))
	queue := make([]*node, 0, len(seed))
	for _, name := range seed {
		n, ok := g.nodes[name]
		if !ok {
			return nil, fmt.Errorf("package not found: %s", name)
		}
		if !visited[name] {
			visited[name] = true
			queue = append(queue, n)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for name, dependent := range n.dependents {
			if !visited[name] {
				visited[name] = true
				queue = append(queue, dependent)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
