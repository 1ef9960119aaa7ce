package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/workspace"
)

// Apply writes the plan into the workspace manifests: new versions for every
// release and new ranges for every range update. Only manifests that changed
// are written. It returns the names of the packages whose manifest was
// written, sorted.
func Apply(ctx context.Context, p *Plan, manifests map[string]*workspace.Manifest) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	touched := make(map[string]*workspace.Manifest)

	for _, r := range p.Releases {
		m, ok := manifests[r.Package]
		if !ok {
			return nil, &PackageError{Package: r.Package, Err: fmt.Errorf("manifest not found")}
		}
		if err := m.SetVersion(r.NewVersion); err != nil {
			return nil, &PackageError{Package: r.Package, Err: err}
		}
		touched[r.Package] = m
	}
	for _, u := range p.RangeUpdates {
		m, ok := manifests[u.Package]
		if !ok {
			return nil, &PackageError{Package: u.Package, Err: fmt.Errorf("manifest not found")}
		}
		if err := m.SetRange(u.Field, u.Dependency, u.To); err != nil {
			return nil, &PackageError{Package: u.Package, Err: err}
		}
		touched[u.Package] = m
	}

	names := make([]string, 0, len(touched))
	for name := range touched {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := touched[name].Write(); err != nil {
			return nil, &PackageError{Package: name, Err: err}
		}
		logger.Debug("Manifest updated.", "package", name, "path", touched[name].Path)
	}
	return names, nil
}
