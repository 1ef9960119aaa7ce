package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/monorelease/internal/attribution"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/dag"
	"github.com/vk/monorelease/internal/override"
	"github.com/vk/monorelease/internal/plan"
	"github.com/vk/monorelease/internal/vcs"
	"github.com/vk/monorelease/internal/workspace"
)

// state is the workspace as read at the start of a workflow.
type state struct {
	ws        *workspace.Workspace
	graph     *dag.Graph
	overrides *override.Store
}

// load reads the workspace. With readOnly, or in dry-run mode, the override
// file is never rewritten.
func (a *App) load(ctx context.Context, readOnly bool) (*state, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading workspace...", "root", a.root)

	ws, err := workspace.Discover(ctx, a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover workspace: %w", err)
	}
	graph, err := dag.Build(ctx, ws.Packages)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	logger.Debug("Dependency graph built.", "packages", graph.Len())

	return &state{
		ws:        ws,
		graph:     graph,
		overrides: override.Open(ctx, a.root, readOnly || a.opts.DryRun),
	}, nil
}

// calculate attributes commits and derives the release plan. chooser may be
// nil.
func (a *App) calculate(ctx context.Context, st *state, chooser plan.Chooser) (*plan.Plan, error) {
	mode, err := attribution.ParseMode(a.cfg.Attribution)
	if err != nil {
		return nil, err
	}
	attributions, err := attribution.Collect(ctx, a.repo, st.ws.Packages, attribution.Options{
		Mode:    mode,
		Workers: a.cfg.Workers,
	})
	if err != nil {
		if vcs.IsNotRepository(err) {
			return nil, fmt.Errorf("%s is not inside a git repository: %w", a.root, err)
		}
		return nil, err
	}
	if err := a.pruneReleased(ctx, st.overrides); err != nil {
		return nil, err
	}
	return plan.Calculate(ctx, plan.Input{
		Graph:        st.graph,
		Attributions: attributions,
		Overrides:    st.overrides.Records(),
		Manifests:    st.ws.Manifests,
		Chooser:      chooser,
	})
}

// pruneReleased drops every override whose release tag already exists. Such
// an override was published from another checkout and would otherwise hold
// its package forever.
func (a *App) pruneReleased(ctx context.Context, overrides *override.Store) error {
	for _, name := range overrides.Names() {
		r, _ := overrides.Get(name)
		tag := attribution.TagName(name, r.Version)
		tags, err := a.repo.Tags(ctx, tag)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", tag, err)
		}
		if !slices.Contains(tags, tag) {
			continue
		}
		if _, err := overrides.Prune(ctx, name, r.Version); err != nil {
			return err
		}
		ctxlog.FromContext(ctx).Info("Dropped override of a released version.", "package", name, "tag", tag)
	}
	return nil
}
