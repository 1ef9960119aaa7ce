package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/hosting"
	"github.com/vk/monorelease/internal/override"
	"github.com/vk/monorelease/internal/report"
	"github.com/vk/monorelease/internal/vcs"
)

// ErrDirtyWorkingTree is returned by PullRequest when there are uncommitted
// changes.
var ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")

// PullRequest resets the release branch to the remote base branch, versions
// the workspace there and opens or refreshes the release pull request.
// Overrides committed on the previous release branch are carried over. It
// returns nil when there is nothing to release.
func (a *App) PullRequest(ctx context.Context) (*hosting.PullRequest, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.PullRequest method started.")
	cfg := a.cfg

	if a.opts.DryRun {
		p, err := a.Version(ctx)
		if err != nil {
			return nil, err
		}
		if !p.Empty() {
			fmt.Fprintf(a.outW, "\n%s", report.Markdown(p))
		}
		return nil, nil
	}

	host, err := a.codeHost()
	if err != nil {
		return nil, err
	}
	clean, err := a.repo.IsClean(ctx)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, ErrDirtyWorkingTree
	}
	if err := a.repo.Fetch(ctx, cfg.Remote); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", cfg.Remote, err)
	}
	carried, err := a.releaseBranchOverrides(ctx)
	if err != nil {
		return nil, err
	}
	base := cfg.Remote + "/" + cfg.BaseBranch
	if err := a.repo.CheckoutBranch(ctx, cfg.ReleaseBranch, base); err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", cfg.ReleaseBranch, err)
	}
	a.logger.Info("Release branch reset.", "branch", cfg.ReleaseBranch, "base", base)
	if len(carried) > 0 {
		added, err := override.Open(ctx, a.root, false).Merge(ctx, carried)
		if err != nil {
			return nil, fmt.Errorf("failed to carry overrides: %w", err)
		}
		a.logger.Info("Carried overrides from the previous release branch.", "packages", added)
	}

	p, err := a.Version(ctx)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, nil
	}

	if err := a.repo.CommitAll(ctx, cfg.CommitMessage); err != nil {
		return nil, fmt.Errorf("failed to commit release: %w", err)
	}
	if err := a.repo.Push(ctx, cfg.Remote, cfg.ReleaseBranch, true); err != nil {
		return nil, fmt.Errorf("failed to push %s: %w", cfg.ReleaseBranch, err)
	}

	pr, err := host.CreateOrUpdatePullRequest(ctx, hosting.PullRequestInput{
		Head:  cfg.ReleaseBranch,
		Base:  cfg.BaseBranch,
		Title: cfg.GitHub.Title,
		Body:  report.Markdown(p),
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("Release pull request ready.", "number", pr.Number, "url", pr.HTMLURL)

	sha, err := a.repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	status := hosting.Status{
		State:       "success",
		Description: fmt.Sprintf("%d package(s) ready to release", len(p.Releases)),
		TargetURL:   pr.HTMLURL,
		Context:     cfg.GitHub.StatusContext,
	}
	if err := host.SetStatus(ctx, sha, status); err != nil {
		return nil, err
	}
	fmt.Fprintf(a.outW, "release pull request: %s\n", pr.HTMLURL)
	return pr, nil
}

// releaseBranchOverrides reads the override file of the pushed release branch,
// which the reset to the base branch would otherwise discard.
func (a *App) releaseBranchOverrides(ctx context.Context) (map[string]override.Record, error) {
	ref := a.cfg.Remote + "/" + a.cfg.ReleaseBranch
	exists, err := a.repo.RefExists(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	raw, err := a.repo.Show(ctx, ref, override.Path)
	if errors.Is(err, vcs.ErrPathNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides from %s: %w", ref, err)
	}
	records, err := override.Decode(raw)
	if err != nil {
		a.logger.Warn("Override file on the release branch is malformed, not carrying it.", "ref", ref, "error", err)
		return nil, nil
	}
	return records, nil
}
