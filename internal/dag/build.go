package dag

import (
	"context"
	"fmt"

	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/workspace"
)

// Build constructs the dependency graph of pkgs. Declared dependencies and
// devDependencies that do not name a workspace package are dropped, as are
// self-references. Build performs no I/O and does not check for cycles; the
// topological order does.
func Build(ctx context.Context, pkgs []workspace.Package) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	graph := New()

	// First pass: register every package so edges can resolve.
	for _, p := range pkgs {
		if graph.Has(p.Name) {
			return nil, fmt.Errorf("duplicate package name %q", p.Name)
		}
		graph.AddNode(p)
	}

	// Second pass: link in-workspace dependencies.
	edges := 0
	for _, p := range pkgs {
		for _, group := range [][]string{p.Dependencies, p.DevDependencies} {
			for _, dep := range group {
				if dep == p.Name || !graph.Has(dep) {
					continue
				}
				if err := graph.AddEdge(dep, p.Name); err != nil {
					return nil, err
				}
				edges++
			}
		}
	}

	logger.Debug("Package graph built.", "packages", graph.Len(), "edges", edges)
	return graph, nil
}
