package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/vk/monorelease/internal/attribution"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/executor"
	"github.com/vk/monorelease/internal/registry"
	"github.com/vk/monorelease/internal/workspace"
)

// PublishResult is the outcome of publishing one package.
type PublishResult struct {
	Package string
	Version string
	Tag     string
	State   executor.State
	Err     error
}

// Publish uploads every public package whose current version is not yet in
// the registry, dependencies first. Each published package is tagged
// name@version and its satisfied override is pruned; the new tags are pushed
// at the end, also when a later package failed.
func (a *App) Publish(ctx context.Context) ([]PublishResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Publish method started.")

	st, err := a.load(ctx, false)
	if err != nil {
		return nil, err
	}
	pending, err := a.unpublished(ctx, st.ws.Packages)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		a.logger.Info("Every package is already published.")
		return nil, nil
	}

	names := make([]string, 0, len(pending))
	for _, p := range pending {
		names = append(names, p.Name)
	}
	// Order rejects cycles, which would leave the executor without roots.
	if _, err := st.graph.Order(names); err != nil {
		return nil, err
	}

	byName := make(map[string]workspace.Package, len(pending))
	tasks := make([]executor.Task, 0, len(pending))
	for _, p := range pending {
		deps, err := st.graph.Dependencies(p.Name)
		if err != nil {
			return nil, err
		}
		byName[p.Name] = p
		tasks = append(tasks, executor.Task{Name: p.Name, Deps: deps})
	}

	var (
		mu   sync.Mutex
		tags []string
	)
	run := func(ctx context.Context, name string) error {
		pkg := byName[name]
		tag := attribution.TagName(pkg.Name, pkg.Version)
		ctx, logger := ctxlog.With(ctx, "package", pkg.Name, "version", pkg.Version)
		if a.opts.DryRun {
			logger.Info("Dry run, would publish.")
			return nil
		}

		err := a.publisher.Publish(ctx, registry.PublishRequest{
			Dir:     filepath.Join(a.root, filepath.FromSlash(pkg.Dir)),
			DistTag: a.cfg.Registry.DistTag,
			OTP:     a.opts.OTP,
		})
		if err != nil {
			return err
		}
		logger.Info("Published.")

		// git and the override file are not safe for concurrent writers.
		mu.Lock()
		defer mu.Unlock()
		if err := a.repo.CreateTag(ctx, tag, "Release "+tag); err != nil {
			return fmt.Errorf("tag %s: %w", tag, err)
		}
		tags = append(tags, tag)
		if _, err := st.overrides.Prune(ctx, pkg.Name, pkg.Version); err != nil {
			return err
		}
		return nil
	}

	exec, err := executor.New(tasks, a.cfg.Workers, run)
	if err != nil {
		return nil, err
	}
	results, runErr := exec.Run(ctx)

	out := make([]PublishResult, 0, len(results))
	for _, r := range results {
		pkg := byName[r.Name]
		out = append(out, PublishResult{
			Package: pkg.Name,
			Version: pkg.Version,
			Tag:     attribution.TagName(pkg.Name, pkg.Version),
			State:   r.State,
			Err:     r.Err,
		})
	}
	a.printPublished(out)

	if len(tags) > 0 {
		if err := a.repo.PushTags(ctx, a.cfg.Remote, tags...); err != nil {
			return out, errors.Join(runErr, fmt.Errorf("failed to push tags: %w", err))
		}
		a.logger.Info("Tags pushed.", "remote", a.cfg.Remote, "count", len(tags))
	}
	if runErr != nil {
		return out, fmt.Errorf("publish failed: %w", runErr)
	}
	a.logger.Debug("App.Publish method finished.", "published", len(out))
	return out, nil
}

// unpublished returns the public packages whose current version is missing
// from the registry. A package the registry has never seen is unpublished.
func (a *App) unpublished(ctx context.Context, pkgs []workspace.Package) ([]workspace.Package, error) {
	logger := ctxlog.FromContext(ctx)
	var out []workspace.Package
	for _, p := range pkgs {
		if p.Private {
			logger.Debug("Skipping private package.", "package", p.Name)
			continue
		}
		meta, err := a.registry.Metadata(ctx, p.Name)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			logger.Debug("Package not in registry yet.", "package", p.Name)
		case err != nil:
			return nil, fmt.Errorf("registry metadata for %s: %w", p.Name, err)
		case meta.Has(p.Version):
			logger.Debug("Version already published.", "package", p.Name, "version", p.Version)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *App) printPublished(results []PublishResult) {
	for _, r := range results {
		switch r.State {
		case executor.Done:
			if a.opts.DryRun {
				fmt.Fprintf(a.outW, "would publish %s\n", r.Tag)
			} else {
				fmt.Fprintf(a.outW, "published %s\n", r.Tag)
			}
		case executor.Failed:
			fmt.Fprintf(a.outW, "failed %s: %v\n", r.Tag, r.Err)
		default:
			fmt.Fprintf(a.outW, "skipped %s\n", r.Tag)
		}
	}
}
