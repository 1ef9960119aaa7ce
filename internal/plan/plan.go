// Package plan turns attributed commits, overrides and the package graph into
// a release plan: which packages get which versions, and which dependency
// ranges must follow them.
package plan

import (
	"context"
	"fmt"

	"github.com/vk/monorelease/internal/bump"
	"github.com/vk/monorelease/internal/commit"
	"github.com/vk/monorelease/internal/override"
)

// Release is the next version of one package. HasDirectChanges is false for
// releases caused only by an updated dependency.
type Release struct {
	Package          string          `json:"package"`
	CurrentVersion   string          `json:"currentVersion"`
	NewVersion       string          `json:"newVersion"`
	Kind             bump.Kind       `json:"kind"`
	HasDirectChanges bool            `json:"hasDirectChanges"`
	Overridden       bool            `json:"overridden"`
	Commits          []commit.Record `json:"-"`
}

// RangeUpdate is one dependency range that follows a released package.
type RangeUpdate struct {
	Package    string `json:"package"`
	Field      string `json:"field"`
	Dependency string `json:"dependency"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// Plan is the complete outcome of one calculation. Releases are in dependency
// order, ties broken by name.
// HeldOverrides name packages already at their override's version, which
// keep it until the override is pruned. StaleOverrides name stored overrides
// below the current version.
type Plan struct {
	Releases       []Release                  `json:"releases"`
	RangeUpdates   []RangeUpdate              `json:"rangeUpdates"`
	NewOverrides   map[string]override.Record `json:"newOverrides,omitempty"`
	HeldOverrides  []string                   `json:"heldOverrides,omitempty"`
	StaleOverrides []string                   `json:"staleOverrides,omitempty"`
}

// Release returns the release of name, if any.
func (p *Plan) Release(name string) (Release, bool) {
	for _, r := range p.Releases {
		if r.Package == name {
			return r, true
		}
	}
	return Release{}, false
}

// Empty reports whether nothing is released.
func (p *Plan) Empty() bool { return len(p.Releases) == 0 }

// Names lists the released packages in plan order.
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.Releases))
	for _, r := range p.Releases {
		names = append(names, r.Package)
	}
	return names
}

// PackageError attaches the offending package to a calculation failure.
type PackageError struct {
	Package string
	Err     error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("package %s: %v", e.Package, e.Err)
}

func (e *PackageError) Unwrap() error { return e.Err }

// Suggestion is what the calculator would release for a directly changed
// package.
type Suggestion struct {
	Package        string
	CurrentVersion string
	Version        string
	Kind           bump.Kind
	Commits        []commit.Record
}

// Choice is a human decision on a Suggestion. An empty Version accepts the
// suggestion. ApplyToRemaining reuses the decision for every later package
// without asking again.
type Choice struct {
	Version          string
	ApplyToRemaining bool
}

// Chooser asks for a version. It is consulted once per directly changed
// package in dependency order.
type Chooser interface {
	Choose(ctx context.Context, s Suggestion) (Choice, error)
}
