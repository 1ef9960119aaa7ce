package dag

import "github.com/vk/monorelease/internal/workspace"

// Graph is the package dependency graph of one workspace. It is built once
// per run and read-only afterwards, so it carries no lock.
type Graph struct {
	// nodes stores all packages in the graph, keyed by package name.
	nodes map[string]*node
}

// node represents a single package. It is un-exported to enforce interaction
// with the graph via the public API (using package names), not by direct
// struct manipulation.
type node struct {
	pkg workspace.Package
	// deps holds the in-workspace packages this package depends on.
	deps map[string]*node
	// dependents holds the in-workspace packages that depend on this package.
	dependents map[string]*node
}

// Entry is one element of a topological order.
type Entry struct {
	Name  string
	Level int
}
