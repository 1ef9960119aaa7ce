package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/monorelease/internal/attribution"
	"github.com/vk/monorelease/internal/bump"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/dag"
	"github.com/vk/monorelease/internal/override"
	"github.com/vk/monorelease/internal/version"
	"github.com/vk/monorelease/internal/workspace"
)

// Input is everything a calculation reads. Manifests supplies the declared
// ranges for range rewriting and may be nil. Chooser is optional.
type Input struct {
	Graph        *dag.Graph
	Attributions map[string]attribution.Attribution
	Overrides    map[string]override.Record
	Manifests    map[string]*workspace.Manifest
	Chooser      Chooser
}

// sticky is a choice carried over to the remaining packages. An explicit
// version only applies to packages sharing the version it was chosen for;
// the others get the same kind of bump.
type sticky struct {
	kind    bump.Kind
	version string
	from    string
}

func (s *sticky) apply(current string) (string, error) {
	if s.version != "" && s.from == current {
		return s.version, nil
	}
	return version.Bump(current, s.kind)
}

// Calculate derives the release plan. It reads nothing but in, apart from the
// chooser, and fails on the first package that cannot be planned.
func Calculate(ctx context.Context, in Input) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	g := in.Graph
	p := &Plan{
		Releases:     []Release{},
		RangeUpdates: []RangeUpdate{},
		NewOverrides: map[string]override.Record{},
	}

	direct := make(map[string]*Release)
	held := make(map[string]bool)
	for _, name := range g.Names() {
		pkg, _ := g.Package(name)
		r, state, err := directRelease(pkg, in.Attributions[name], in.Overrides)
		if err != nil {
			return nil, &PackageError{Package: name, Err: err}
		}
		switch state {
		case overrideHeld:
			logger.Debug("Override already applied, holding version.", "package", name, "version", pkg.Version)
			held[name] = true
			p.HeldOverrides = append(p.HeldOverrides, name)
		case overrideStale:
			logger.Debug("Ignoring stale override.", "package", name, "current", pkg.Version)
			p.StaleOverrides = append(p.StaleOverrides, name)
		}
		if r != nil {
			direct[name] = r
		}
	}
	for name := range in.Overrides {
		if !g.Has(name) {
			logger.Warn("Override names a package outside the workspace.", "package", name)
		}
	}

	seed := make([]string, 0, len(direct))
	for name := range direct {
		seed = append(seed, name)
	}
	sort.Strings(seed)
	order, err := g.Order(seed)
	if err != nil {
		return nil, err
	}

	if in.Chooser != nil {
		if err := choose(ctx, in.Chooser, order, direct, p.NewOverrides); err != nil {
			return nil, err
		}
	}

	releases, err := cascade(g, seed, direct, held)
	if err != nil {
		return nil, err
	}
	for _, e := range order {
		r, ok := releases[e.Name]
		if !ok {
			// Held, or a dependent reached only through a held package.
			continue
		}
		p.Releases = append(p.Releases, *r)
	}

	if p.RangeUpdates, err = rangeUpdates(g, releases, in.Manifests); err != nil {
		return nil, err
	}
	logger.Debug("Release plan calculated.", "direct", len(direct), "releases", len(p.Releases), "rangeUpdates", len(p.RangeUpdates))
	return p, nil
}

// overrideState is how a stored override relates to the current version.
type overrideState int

const (
	overrideNone overrideState = iota
	// Above the current version; the override decides the release.
	overrideApplied
	// Equal to the current version; the package keeps it until the override
	// is pruned.
	overrideHeld
	// Below the current version; ignored.
	overrideStale
)

// directRelease returns the release a package earns on its own: from a live
// override, or from its attributed commits. A held package gets no release
// whatever its commits say; a stale override is ignored.
func directRelease(pkg workspace.Package, a attribution.Attribution, overrides map[string]override.Record) (*Release, overrideState, error) {
	commits := a.Commits()
	state := overrideNone
	if o, ok := overrides[pkg.Name]; ok {
		c, err := version.Compare(o.Version, pkg.Version)
		if err != nil {
			return nil, overrideNone, fmt.Errorf("override: %w", err)
		}
		switch {
		case c > 0:
			kind := o.Type
			if kind == bump.None {
				kind = version.KindBetween(pkg.Version, o.Version)
			}
			return &Release{
				Package:          pkg.Name,
				CurrentVersion:   pkg.Version,
				NewVersion:       o.Version,
				Kind:             kind,
				HasDirectChanges: true,
				Overridden:       true,
				Commits:          commits,
			}, overrideApplied, nil
		case c == 0:
			return nil, overrideHeld, nil
		}
		state = overrideStale
	}

	kind := bump.Aggregate(commits)
	if kind == bump.None {
		return nil, state, nil
	}
	next, err := version.Bump(pkg.Version, kind)
	if err != nil {
		return nil, state, err
	}
	return &Release{
		Package:          pkg.Name,
		CurrentVersion:   pkg.Version,
		NewVersion:       next,
		Kind:             kind,
		HasDirectChanges: true,
		Commits:          commits,
	}, state, nil
}

// choose consults the chooser for every calculated direct release in order.
// Overridden packages already carry a human decision and are not asked.
func choose(ctx context.Context, chooser Chooser, order []dag.Entry, direct map[string]*Release, newOverrides map[string]override.Record) error {
	var carried *sticky
	for _, e := range order {
		r, ok := direct[e.Name]
		if !ok || r.Overridden {
			continue
		}

		chosen := r.NewVersion
		if carried != nil {
			v, err := carried.apply(r.CurrentVersion)
			if err != nil {
				return &PackageError{Package: r.Package, Err: err}
			}
			chosen = v
		} else {
			choice, err := chooser.Choose(ctx, Suggestion{
				Package:        r.Package,
				CurrentVersion: r.CurrentVersion,
				Version:        r.NewVersion,
				Kind:           r.Kind,
				Commits:        r.Commits,
			})
			if err != nil {
				return &PackageError{Package: r.Package, Err: err}
			}
			if choice.Version != "" {
				chosen = choice.Version
			}
			if choice.ApplyToRemaining {
				carried = &sticky{
					kind:    version.KindBetween(r.CurrentVersion, chosen),
					version: chosen,
					from:    r.CurrentVersion,
				}
			}
		}

		if chosen == r.NewVersion {
			continue
		}
		cmp, err := version.Compare(chosen, r.CurrentVersion)
		if err != nil {
			return &PackageError{Package: r.Package, Err: err}
		}
		if cmp <= 0 {
			return &PackageError{Package: r.Package, Err: fmt.Errorf("chosen version %s is not greater than %s", chosen, r.CurrentVersion)}
		}
		r.NewVersion = chosen
		r.Kind = version.KindBetween(r.CurrentVersion, chosen)
		newOverrides[r.Package] = override.Record{Version: chosen, Type: r.Kind}
	}
	return nil
}

// cascade gives a patch release to every package that transitively depends
// on a direct release and has none of its own. Each package is assigned once.
// Held packages keep their version and do not pass the cascade on.
func cascade(g *dag.Graph, seed []string, direct map[string]*Release, held map[string]bool) (map[string]*Release, error) {
	releases := make(map[string]*Release, len(direct))
	for name, r := range direct {
		releases[name] = r
	}

	queue := append([]string(nil), seed...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		dependents, err := g.Dependents(name)
		if err != nil {
			return nil, err
		}
		for _, dep := range dependents {
			if _, assigned := releases[dep]; assigned || held[dep] {
				continue
			}
			pkg, _ := g.Package(dep)
			next, err := version.Bump(pkg.Version, bump.Patch)
			if err != nil {
				return nil, &PackageError{Package: dep, Err: err}
			}
			releases[dep] = &Release{
				Package:        dep,
				CurrentVersion: pkg.Version,
				NewVersion:     next,
				Kind:           bump.Patch,
			}
			queue = append(queue, dep)
		}
	}
	return releases, nil
}

// rangeUpdates lists every workspace dependency range that must change to
// follow a release.
func rangeUpdates(g *dag.Graph, releases map[string]*Release, manifests map[string]*workspace.Manifest) ([]RangeUpdate, error) {
	updates := []RangeUpdate{}
	for _, name := range g.Names() {
		m, ok := manifests[name]
		if !ok {
			continue
		}
		for _, field := range workspace.DependencyFields {
			for _, dep := range m.DependencyNames(field) {
				target, ok := releases[dep]
				if !ok || dep == name {
					continue
				}
				from, _ := m.Range(field, dep)
				to, err := version.RewriteRange(from, target.NewVersion)
				if err != nil {
					return nil, &PackageError{Package: name, Err: fmt.Errorf("%s.%s: %w", field, dep, err)}
				}
				if to == from {
					continue
				}
				updates = append(updates, RangeUpdate{Package: name, Field: field, Dependency: dep, From: from, To: to})
			}
		}
	}
	return updates, nil
}
