package plan

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/monorelease/internal/attribution"
	"github.com/vk/monorelease/internal/bump"
	"github.com/vk/monorelease/internal/commit"
	"github.com/vk/monorelease/internal/dag"
	"github.com/vk/monorelease/internal/override"
	"github.com/vk/monorelease/internal/version"
	"github.com/vk/monorelease/internal/workspace"
)

type fixture struct {
	pkgs      []workspace.Package
	manifests map[string]*workspace.Manifest
	attrs     map[string]attribution.Attribution
	overrides map[string]override.Record
	chooser   Chooser
}

func newFixture() *fixture {
	return &fixture{
		manifests: map[string]*workspace.Manifest{},
		attrs:     map[string]attribution.Attribution{},
		overrides: map[string]override.Record{},
	}
}

// add registers a package whose manifest declares deps as "dependencies"
// with the given ranges.
func (f *fixture) add(t *testing.T, name, ver string, deps map[string]string) {
	t.Helper()
	f.addManifest(t, name, ver, map[string]map[string]string{workspace.FieldDependencies: deps})
}

func (f *fixture) addManifest(t *testing.T, name, ver string, fields map[string]map[string]string) {
	t.Helper()
	doc := map[string]any{"name": name, "version": ver}
	p := workspace.Package{Name: name, Version: ver, Dir: "packages/" + name}
	for field, deps := range fields {
		if len(deps) == 0 {
			continue
		}
		doc[field] = deps
		for dep := range deps {
			if field == workspace.FieldDevDependencies {
				p.DevDependencies = append(p.DevDependencies, dep)
			} else {
				p.Dependencies = append(p.Dependencies, dep)
			}
		}
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	m, err := workspace.ParseManifest(filepath.Join("packages", name, "package.json"), raw)
	require.NoError(t, err)
	f.pkgs = append(f.pkgs, p)
	f.manifests[name] = m
}

func (f *fixture) commits(name string, subjects ...string) {
	a := f.attrs[name]
	a.Package = name
	for i, s := range subjects {
		a.Local = append(a.Local, commit.Parse(name+string(rune('a'+i)), s, "", time.Unix(int64(1000+i), 0)))
	}
	f.attrs[name] = a
}

func (f *fixture) calculate(t *testing.T) (*Plan, error) {
	t.Helper()
	g, err := dag.Build(context.Background(), f.pkgs)
	require.NoError(t, err)
	return Calculate(context.Background(), Input{
		Graph:        g,
		Attributions: f.attrs,
		Overrides:    f.overrides,
		Manifests:    f.manifests,
		Chooser:      f.chooser,
	})
}

var ignoreCommits = cmpopts.IgnoreFields(Release{}, "Commits")

func TestCalculate_CascadeAndRanges(t *testing.T) {
	f := newFixture()
	f.add(t, "core", "1.0.0", nil)
	f.add(t, "ui", "1.0.0", map[string]string{"core": "^1.0.0"})
	f.commits("core", "fix: off by one")

	p, err := f.calculate(t)
	require.NoError(t, err)

	want := []Release{
		{Package: "core", CurrentVersion: "1.0.0", NewVersion: "1.0.1", Kind: bump.Patch, HasDirectChanges: true},
		{Package: "ui", CurrentVersion: "1.0.0", NewVersion: "1.0.1", Kind: bump.Patch},
	}
	if diff := cmp.Diff(want, p.Releases, ignoreCommits); diff != "" {
		t.Errorf("releases mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []RangeUpdate{
		{Package: "ui", Field: "dependencies", Dependency: "core", From: "^1.0.0", To: "^1.0.1"},
	}, p.RangeUpdates)
	assert.Len(t, p.Releases[0].Commits, 1)
	assert.Empty(t, p.NewOverrides)
	assert.Empty(t, p.StaleOverrides)
}

func TestCalculate_BreakingCommit(t *testing.T) {
	f := newFixture()
	f.add(t, "api", "2.3.1", nil)
	f.commits("api", "feat!: remove old api")

	p, err := f.calculate(t)
	require.NoError(t, err)
	r, ok := p.Release("api")
	require.True(t, ok)
	assert.Equal(t, "3.0.0", r.NewVersion)
	assert.Equal(t, bump.Major, r.Kind)
	assert.True(t, r.HasDirectChanges)
}

func TestCalculate_Overrides(t *testing.T) {
	t.Run("override without commits", func(t *testing.T) {
		f := newFixture()
		f.add(t, "logger", "3.9.0", nil)
		f.overrides["logger"] = override.Record{Version: "4.0.0", Type: bump.Minor}

		p, err := f.calculate(t)
		require.NoError(t, err)
		want := []Release{{
			Package: "logger", CurrentVersion: "3.9.0", NewVersion: "4.0.0",
			Kind: bump.Minor, HasDirectChanges: true, Overridden: true,
		}}
		if diff := cmp.Diff(want, p.Releases, ignoreCommits); diff != "" {
			t.Errorf("releases mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("override beats commits", func(t *testing.T) {
		f := newFixture()
		f.add(t, "core", "1.0.0", nil)
		f.commits("core", "feat!: rewrite", "fix: typo")
		f.overrides["core"] = override.Record{Version: "1.5.0", Type: bump.Minor}

		p, err := f.calculate(t)
		require.NoError(t, err)
		r, _ := p.Release("core")
		assert.Equal(t, "1.5.0", r.NewVersion)
		assert.True(t, r.Overridden)
		assert.Len(t, r.Commits, 2)
	})

	t.Run("stale override is ignored", func(t *testing.T) {
		f := newFixture()
		f.add(t, "ui", "1.0.0", nil)
		f.overrides["ui"] = override.Record{Version: "0.9.0", Type: bump.Major}
		f.commits("ui", "fix: button")

		p, err := f.calculate(t)
		require.NoError(t, err)
		assert.Equal(t, []string{"ui"}, p.Names())
		r, _ := p.Release("ui")
		assert.Equal(t, "1.0.1", r.NewVersion)
		assert.Equal(t, []string{"ui"}, p.StaleOverrides)
		assert.Empty(t, p.HeldOverrides)
	})

	t.Run("applied override holds the version against new commits", func(t *testing.T) {
		f := newFixture()
		f.add(t, "core", "2.0.0", nil)
		f.add(t, "ui", "1.0.1", map[string]string{"core": "^2.0.0"})
		f.overrides["core"] = override.Record{Version: "2.0.0", Type: bump.Major}
		f.commits("core", "feat: another api")

		p, err := f.calculate(t)
		require.NoError(t, err)
		assert.True(t, p.Empty(), "got %v", p.Names())
		assert.Empty(t, p.RangeUpdates)
		assert.Equal(t, []string{"core"}, p.HeldOverrides)
		assert.Empty(t, p.StaleOverrides)
	})

	t.Run("held package does not pass a cascade on", func(t *testing.T) {
		f := newFixture()
		f.add(t, "lib", "1.0.0", nil)
		f.add(t, "core", "2.0.0", map[string]string{"lib": "^1.0.0"})
		f.add(t, "ui", "1.0.0", map[string]string{"core": "^2.0.0"})
		f.add(t, "cli", "1.0.0", map[string]string{"lib": "^1.0.0", "ui": "^1.0.0"})
		f.overrides["core"] = override.Record{Version: "2.0.0", Type: bump.Major}
		f.commits("lib", "fix: leak")

		p, err := f.calculate(t)
		require.NoError(t, err)
		assert.Equal(t, []string{"lib", "cli"}, p.Names())
		assert.Equal(t, []RangeUpdate{
			{Package: "cli", Field: "dependencies", Dependency: "lib", From: "^1.0.0", To: "^1.0.1"},
			{Package: "core", Field: "dependencies", Dependency: "lib", From: "^1.0.0", To: "^1.0.1"},
		}, p.RangeUpdates)
	})

	t.Run("invalid override names the package", func(t *testing.T) {
		f := newFixture()
		f.add(t, "core", "1.0.0", nil)
		f.overrides["core"] = override.Record{Version: "v2", Type: bump.Major}

		_, err := f.calculate(t)
		var pkgErr *PackageError
		require.True(t, errors.As(err, &pkgErr))
		assert.Equal(t, "core", pkgErr.Package)
		var invalid *version.InvalidError
		assert.True(t, errors.As(err, &invalid))
	})
}

func TestCalculate_CascadeSingleAssignment(t *testing.T) {
	// core <- util <- app, core <- app, core <- docs (dev), app changed itself
	f := newFixture()
	f.add(t, "core", "1.0.0", nil)
	f.add(t, "util", "0.4.0", map[string]string{"core": "workspace:*"})
	f.add(t, "app", "2.1.0", map[string]string{"core": "^1.0.0", "util": "~0.4.0"})
	f.addManifest(t, "docs", "0.0.1", map[string]map[string]string{
		workspace.FieldDevDependencies: {"core": "workspace:^"},
	})
	f.add(t, "unrelated", "5.0.0", nil)
	f.commits("core", "feat: new api")
	f.commits("app", "feat: dashboard")

	p, err := f.calculate(t)
	require.NoError(t, err)

	want := []Release{
		{Package: "core", CurrentVersion: "1.0.0", NewVersion: "1.1.0", Kind: bump.Minor, HasDirectChanges: true},
		{Package: "docs", CurrentVersion: "0.0.1", NewVersion: "0.0.2", Kind: bump.Patch},
		{Package: "util", CurrentVersion: "0.4.0", NewVersion: "0.4.1", Kind: bump.Patch},
		{Package: "app", CurrentVersion: "2.1.0", NewVersion: "2.2.0", Kind: bump.Minor, HasDirectChanges: true},
	}
	if diff := cmp.Diff(want, p.Releases, ignoreCommits); diff != "" {
		t.Errorf("releases mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []RangeUpdate{
		{Package: "app", Field: "dependencies", Dependency: "core", From: "^1.0.0", To: "^1.1.0"},
		{Package: "app", Field: "dependencies", Dependency: "util", From: "~0.4.0", To: "~0.4.1"},
	}, p.RangeUpdates)
}

func TestCalculate_RoundTrip(t *testing.T) {
	f := newFixture()
	f.add(t, "core", "1.0.0", nil)
	f.add(t, "ui", "1.0.0", map[string]string{"core": "^1.0.0"})
	f.commits("core", "feat: x")
	f.overrides["ui"] = override.Record{Version: "2.0.0", Type: bump.Major}

	first, err := f.calculate(t)
	require.NoError(t, err)
	require.Len(t, first.Releases, 2)

	// Apply versions, tag everything: no further commits are attributed.
	next := newFixture()
	for _, r := range first.Releases {
		deps := map[string]string{}
		if r.Package == "ui" {
			deps["core"] = "^" + first.Releases[0].NewVersion
		}
		next.add(t, r.Package, r.NewVersion, deps)
	}
	next.overrides = f.overrides

	second, err := next.calculate(t)
	require.NoError(t, err)
	assert.True(t, second.Empty())
	assert.Empty(t, second.RangeUpdates)
	assert.Equal(t, []string{"ui"}, second.HeldOverrides)
	assert.Empty(t, second.StaleOverrides)
}

func TestCalculate_Failures(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		f := newFixture()
		f.add(t, "A", "1.0.0", map[string]string{"B": "^1.0.0"})
		f.add(t, "B", "1.0.0", map[string]string{"A": "^1.0.0"})
		f.add(t, "C", "1.0.0", nil)
		f.commits("A", "fix: a")
		f.commits("C", "fix: c")

		_, err := f.calculate(t)
		var cycleErr *dag.CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"A", "B"}, cycleErr.Names)
	})

	t.Run("compound range that no longer matches", func(t *testing.T) {
		f := newFixture()
		f.add(t, "core", "1.0.0", nil)
		f.add(t, "ui", "1.0.0", map[string]string{"core": ">=1.0.0 <1.1.0"})
		f.commits("core", "feat: x")

		_, err := f.calculate(t)
		var rangeErr *version.RangeError
		require.True(t, errors.As(err, &rangeErr))
		var pkgErr *PackageError
		require.True(t, errors.As(err, &pkgErr))
		assert.Equal(t, "ui", pkgErr.Package)
	})

	t.Run("compound range that still matches is kept", func(t *testing.T) {
		f := newFixture()
		f.add(t, "core", "1.0.0", nil)
		f.add(t, "ui", "1.0.0", map[string]string{"core": "^1.0.0 || ^2.0.0"})
		f.commits("core", "fix: x")

		p, err := f.calculate(t)
		require.NoError(t, err)
		assert.Empty(t, p.RangeUpdates)
		assert.Len(t, p.Releases, 2)
	})
}

type scriptedChooser struct {
	answers []Choice
	asked   []Suggestion
}

func (s *scriptedChooser) Choose(_ context.Context, sg Suggestion) (Choice, error) {
	s.asked = append(s.asked, sg)
	if len(s.answers) == 0 {
		return Choice{}, nil
	}
	c := s.answers[0]
	s.answers = s.answers[1:]
	return c, nil
}

func TestCalculate_Chooser(t *testing.T) {
	t.Run("apply to remaining", func(t *testing.T) {
		f := newFixture()
		f.add(t, "a", "1.0.0", nil)
		f.add(t, "b", "1.0.0", nil)
		f.add(t, "c", "0.3.0", nil)
		f.commits("a", "fix: a")
		f.commits("b", "fix: b")
		f.commits("c", "fix: c")
		ch := &scriptedChooser{answers: []Choice{{Version: "2.0.0", ApplyToRemaining: true}}}
		f.chooser = ch

		p, err := f.calculate(t)
		require.NoError(t, err)
		require.Len(t, ch.asked, 1)
		assert.Equal(t, Suggestion{Package: "a", CurrentVersion: "1.0.0", Version: "1.0.1", Kind: bump.Patch, Commits: f.attrs["a"].Local}, ch.asked[0])

		got := map[string]string{}
		for _, r := range p.Releases {
			got[r.Package] = r.NewVersion
		}
		assert.Equal(t, map[string]string{"a": "2.0.0", "b": "2.0.0", "c": "1.0.0"}, got)
		assert.Equal(t, map[string]override.Record{
			"a": {Version: "2.0.0", Type: bump.Major},
			"b": {Version: "2.0.0", Type: bump.Major},
			"c": {Version: "1.0.0", Type: bump.Major},
		}, p.NewOverrides)
	})

	t.Run("accepting suggestions records nothing", func(t *testing.T) {
		f := newFixture()
		f.add(t, "a", "1.0.0", nil)
		f.add(t, "b", "1.0.0", map[string]string{"a": "^1.0.0"})
		f.commits("a", "feat: a")
		f.overrides["b"] = override.Record{Version: "3.0.0", Type: bump.Major}
		ch := &scriptedChooser{}
		f.chooser = ch

		p, err := f.calculate(t)
		require.NoError(t, err)
		assert.Len(t, ch.asked, 1, "overridden packages are not asked")
		assert.Empty(t, p.NewOverrides)
		r, _ := p.Release("a")
		assert.Equal(t, "1.1.0", r.NewVersion)
	})

	t.Run("choosing a lower version fails", func(t *testing.T) {
		f := newFixture()
		f.add(t, "a", "1.0.0", nil)
		f.commits("a", "fix: a")
		f.chooser = &scriptedChooser{answers: []Choice{{Version: "0.9.0"}}}

		_, err := f.calculate(t)
		assert.ErrorContains(t, err, "package a: chosen version 0.9.0 is not greater than 1.0.0")
	})
}

func TestApply(t *testing.T) {
	root := t.TempDir()
	write := func(name, content string) *workspace.Manifest {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		p := filepath.Join(dir, "package.json")
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		m, err := workspace.ReadManifest(p)
		require.NoError(t, err)
		return m
	}
	manifests := map[string]*workspace.Manifest{
		"core":  write("core", "{\n  \"name\": \"core\",\n  \"version\": \"1.0.0\"\n}\n"),
		"ui":    write("ui", "{\n  \"name\": \"ui\",\n  \"version\": \"1.0.0\",\n  \"dependencies\": {\n    \"core\": \"^1.0.0\"\n  }\n}\n"),
		"other": write("other", "{\n  \"name\": \"other\",\n  \"version\": \"3.0.0\"\n}\n"),
	}
	p := &Plan{
		Releases: []Release{
			{Package: "core", CurrentVersion: "1.0.0", NewVersion: "1.0.1", Kind: bump.Patch, HasDirectChanges: true},
			{Package: "ui", CurrentVersion: "1.0.0", NewVersion: "1.0.1", Kind: bump.Patch},
		},
		RangeUpdates: []RangeUpdate{{Package: "ui", Field: "dependencies", Dependency: "core", From: "^1.0.0", To: "^1.0.1"}},
	}

	written, err := Apply(context.Background(), p, manifests)
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "ui"}, written)

	raw, err := os.ReadFile(filepath.Join(root, "ui", "package.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"name\": \"ui\",\n  \"version\": \"1.0.1\",\n  \"dependencies\": {\n    \"core\": \"^1.0.1\"\n  }\n}\n", string(raw))

	raw, err = os.ReadFile(filepath.Join(root, "other", "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": "3.0.0"`)
}
