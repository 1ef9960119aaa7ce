// Package attribution decides which commits count toward each package's next
// release: local commits inside the package directory since its last release
// tag, plus global commits that touch no package at all and landed after that
// tag.
package attribution

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/monorelease/internal/commit"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/vcs"
	"github.com/vk/monorelease/internal/version"
	"github.com/vk/monorelease/internal/workspace"
)

// History is the slice of version control the engine reads.
type History interface {
	Tags(ctx context.Context, prefix string) ([]string, error)
	TagTime(ctx context.Context, tag string) (time.Time, error)
	Log(ctx context.Context, q vcs.LogQuery) ([]commit.Record, error)
	ChangedFiles(ctx context.Context, from, to string) (map[string][]string, error)
}

// Mode selects how global commits are attributed.
type Mode string

const (
	// ModeAll attributes every global commit.
	ModeAll Mode = "all"
	// ModeDependencies attributes only global commits that touch a dependency
	// manifest or lockfile.
	ModeDependencies Mode = "dependencies"
	// ModeNone disables global attribution.
	ModeNone Mode = "none"
)

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeAll, ModeDependencies, ModeNone:
		return m, nil
	}
	return "", fmt.Errorf("unknown attribution mode %q", s)
}

// dependencyFiles are the basenames that make a global commit relevant in
// ModeDependencies.
var dependencyFiles = map[string]bool{
	"package.json":        true,
	"package-lock.json":   true,
	"npm-shrinkwrap.json": true,
	"pnpm-lock.yaml":      true,
	"pnpm-workspace.yaml": true,
	"yarn.lock":           true,
	"bun.lockb":           true,
}

// Options tune Collect.
type Options struct {
	Mode    Mode
	Workers int
}

// Attribution is the commit set attributed to one package.
type Attribution struct {
	Package string
	// LastTag is empty when the package was never released.
	LastTag string
	// Cutoff is the commit time of LastTag, zero when untagged.
	Cutoff time.Time
	Local  []commit.Record
	Global []commit.Record
}

// Commits returns local commits followed by global ones.
func (a Attribution) Commits() []commit.Record {
	out := make([]commit.Record, 0, len(a.Local)+len(a.Global))
	out = append(out, a.Local...)
	return append(out, a.Global...)
}

// TagPrefix is the prefix shared by every release tag of name.
func TagPrefix(name string) string { return name + "@" }

// TagName is the release tag for name at v.
func TagName(name, v string) string { return TagPrefix(name) + v }

// Collect attributes commits to every package. Tag lookup and the local log
// run per package on a bounded pool; global commits come from one log and one
// changed-file call over the union range of all packages, partitioned in
// memory. Any failure aborts the whole collection.
func Collect(ctx context.Context, h History, pkgs []workspace.Package, opts Options) (map[string]Attribution, error) {
	logger := ctxlog.FromContext(ctx)
	mode := opts.Mode
	if mode == "" {
		mode = ModeAll
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]Attribution, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pkgs {
		g.Go(func() error {
			a, err := collectLocal(gctx, h, p)
			if err != nil {
				return fmt.Errorf("attribute commits for package %s: %w", p.Name, err)
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if mode != ModeNone && len(pkgs) > 0 {
		from := unionStart(results)
		logger.Debug("Fetching global commit candidates.", "from", from)
		global, err := globalCandidates(ctx, h, from, dirsOf(pkgs), mode)
		if err != nil {
			return nil, err
		}
		for i := range results {
			results[i].Global = scope(global, results[i])
		}
	}

	out := make(map[string]Attribution, len(results))
	for _, a := range results {
		logger.Debug("Attributed commits.", "package", a.Package, "lastTag", a.LastTag, "local", len(a.Local), "global", len(a.Global))
		out[a.Package] = a
	}
	return out, nil
}

func collectLocal(ctx context.Context, h History, p workspace.Package) (Attribution, error) {
	a := Attribution{Package: p.Name}
	tag, err := LastTag(ctx, h, p.Name)
	if err != nil {
		return a, err
	}
	if tag != "" {
		a.LastTag = tag
		if a.Cutoff, err = h.TagTime(ctx, tag); err != nil {
			return a, err
		}
	}
	a.Local, err = h.Log(ctx, vcs.LogQuery{From: tag, Path: p.Dir})
	if err != nil {
		return a, err
	}
	return a, nil
}

// LastTag returns the release tag of name with the highest version, or "" if
// the package has never been tagged. Tags whose suffix is not a version are
// ignored.
func LastTag(ctx context.Context, h History, name string) (string, error) {
	prefix := TagPrefix(name)
	tags, err := h.Tags(ctx, prefix)
	if err != nil {
		return "", err
	}
	best, bestVersion := "", ""
	for _, t := range tags {
		v := strings.TrimPrefix(t, prefix)
		if !strings.HasPrefix(t, prefix) || !version.Valid(v) {
			continue
		}
		if best == "" {
			best, bestVersion = t, v
			continue
		}
		if c, _ := version.Compare(v, bestVersion); c > 0 {
			best, bestVersion = t, v
		}
	}
	return best, nil
}

// unionStart picks the start of the range that covers every package: the
// oldest tag by commit time, or the beginning of history when any package is
// untagged.
func unionStart(results []Attribution) string {
	oldest := -1
	for i, a := range results {
		if a.LastTag == "" {
			return ""
		}
		if oldest < 0 || a.Cutoff.Before(results[oldest].Cutoff) {
			oldest = i
		}
	}
	if oldest < 0 {
		return ""
	}
	return results[oldest].LastTag
}

// globalCandidates lists the commits after from that touch no package
// directory, with their changed files attached.
func globalCandidates(ctx context.Context, h History, from string, dirs []string, mode Mode) ([]commit.Record, error) {
	commits, err := h.Log(ctx, vcs.LogQuery{From: from})
	if err != nil {
		return nil, fmt.Errorf("list commits for global attribution: %w", err)
	}
	files, err := h.ChangedFiles(ctx, from, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("list changed files for global attribution: %w", err)
	}

	var out []commit.Record
	for _, c := range commits {
		c.Files = files[c.Hash]
		if touchesAny(c, dirs) {
			continue
		}
		if mode == ModeDependencies && !touchesDependencyFile(c) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// scope keeps the global candidates strictly newer than a's own cutoff.
func scope(global []commit.Record, a Attribution) []commit.Record {
	local := make(map[string]bool, len(a.Local))
	for _, c := range a.Local {
		local[c.Hash] = true
	}
	var out []commit.Record
	for _, c := range global {
		if !c.Timestamp.After(a.Cutoff) || local[c.Hash] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func touchesAny(c commit.Record, dirs []string) bool {
	for _, d := range dirs {
		if c.Touches(d) {
			return true
		}
	}
	return false
}

func touchesDependencyFile(c commit.Record) bool {
	for _, f := range c.Files {
		if dependencyFiles[path.Base(f)] {
			return true
		}
	}
	return false
}

func dirsOf(pkgs []workspace.Package) []string {
	dirs := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		dirs = append(dirs, p.Dir)
	}
	return dirs
}
