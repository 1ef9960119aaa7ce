package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/monorelease/internal/changelog"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/plan"
	"github.com/vk/monorelease/internal/report"
)

// Plan computes the release plan and prints it without changing anything.
func (a *App) Plan(ctx context.Context) (*plan.Plan, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Plan method started.")

	st, err := a.load(ctx, true)
	if err != nil {
		return nil, err
	}
	p, err := a.calculate(ctx, st, nil)
	if err != nil {
		return nil, err
	}
	if err := a.print(p); err != nil {
		return nil, err
	}
	a.logger.Debug("App.Plan method finished.", "releases", len(p.Releases))
	return p, nil
}

// Version computes the release plan and writes it into the workspace: new
// manifest versions and ranges, changelog sections and the overrides chosen
// interactively. With DryRun it only prints the plan.
func (a *App) Version(ctx context.Context) (*plan.Plan, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Version method started.")

	st, err := a.load(ctx, false)
	if err != nil {
		return nil, err
	}
	p, err := a.calculate(ctx, st, a.chooser)
	if err != nil {
		return nil, err
	}
	if err := a.print(p); err != nil {
		return nil, err
	}
	if p.Empty() {
		a.logger.Info("Nothing to release.")
		return p, nil
	}
	if a.opts.DryRun {
		a.logger.Info("Dry run, leaving the workspace untouched.", "releases", len(p.Releases))
		return p, nil
	}

	written, err := plan.Apply(ctx, p, st.ws.Manifests)
	if err != nil {
		return nil, fmt.Errorf("failed to update manifests: %w", err)
	}
	if a.cfg.Changelog {
		if err := a.writeChangelogs(st, p); err != nil {
			return nil, err
		}
	}
	if err := st.overrides.Set(ctx, p.NewOverrides); err != nil {
		return nil, fmt.Errorf("failed to persist overrides: %w", err)
	}
	a.logger.Info("Workspace versioned.", "releases", len(p.Releases), "manifests", len(written), "overrides", len(p.NewOverrides))
	return p, nil
}

func (a *App) writeChangelogs(st *state, p *plan.Plan) error {
	date := a.now()
	for _, r := range p.Releases {
		pkg, ok := st.ws.Package(r.Package)
		if !ok {
			return &plan.PackageError{Package: r.Package, Err: fmt.Errorf("not in workspace")}
		}
		deps, err := st.graph.Dependencies(r.Package)
		if err != nil {
			return err
		}
		var updated []string
		for _, d := range deps {
			if dr, ok := p.Release(d); ok {
				updated = append(updated, d+"@"+dr.NewVersion)
			}
		}
		path := filepath.Join(a.root, filepath.FromSlash(pkg.Dir), changelog.FileName)
		if err := changelog.Prepend(path, r.Package, changelog.Render(r, updated, date)); err != nil {
			return &plan.PackageError{Package: r.Package, Err: err}
		}
		a.logger.Debug("Changelog updated.", "package", r.Package, "path", path)
	}
	return nil
}

func (a *App) print(p *plan.Plan) error {
	if a.opts.JSON {
		return report.JSON(a.outW, p)
	}
	return report.Text(a.outW, p)
}
