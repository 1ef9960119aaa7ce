package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/monorelease/internal/hosting"
	"github.com/vk/monorelease/internal/plan"
	"github.com/vk/monorelease/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// repoFixture is a throwaway workspace repository with a bare remote:
//
//	core 1.0.0
//	ui   1.0.0  dependencies: core ^1.0.0
//	site 0.1.0  private, dependencies: ui workspace:*
//
// Every package is tagged at the initial commit.
type repoFixture struct {
	t      *testing.T
	root   string
	remote string
	clock  int64
}

func newRepoFixture(t *testing.T) *repoFixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	f := &repoFixture{t: t, root: t.TempDir(), remote: t.TempDir(), clock: 1700000000}
	f.gitIn(f.remote, "init", "--quiet", "--bare")
	f.git("init", "--quiet", "--initial-branch=main")
	f.git("config", "user.name", "Release Bot")
	f.git("config", "user.email", "bot@example.com")
	f.git("config", "commit.gpgsign", "false")
	f.git("config", "tag.gpgsign", "false")
	f.git("remote", "add", "origin", f.remote)

	f.write("package.json", `{"name": "acme", "private": true, "workspaces": ["packages/*"]}`)
	f.write("release.hcl", "workers = 2\n")
	f.write("packages/core/package.json", `{
  "name": "core",
  "version": "1.0.0"
}
`)
	f.write("packages/ui/package.json", `{
  "name": "ui",
  "version": "1.0.0",
  "dependencies": {
    "core": "^1.0.0"
  }
}
`)
	f.write("packages/site/package.json", `{
  "name": "site",
  "version": "0.1.0",
  "private": true,
  "dependencies": {
    "ui": "workspace:*"
  }
}
`)
	f.commit("chore: initial import")
	f.git("tag", "core@1.0.0")
	f.git("tag", "ui@1.0.0")
	f.git("tag", "site@0.1.0")
	return f
}

func (f *repoFixture) gitIn(dir string, args ...string) string {
	f.t.Helper()
	date := fmt.Sprintf("@%d +0000", f.clock)
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	out, err := cmd.CombinedOutput()
	require.NoError(f.t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func (f *repoFixture) git(args ...string) string {
	f.t.Helper()
	return f.gitIn(f.root, args...)
}

func (f *repoFixture) write(rel, content string) {
	f.t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *repoFixture) read(rel string) string {
	f.t.Helper()
	raw, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	require.NoError(f.t, err)
	return string(raw)
}

func (f *repoFixture) commit(message string) {
	f.t.Helper()
	f.clock += 60
	f.git("add", "--all")
	f.git("commit", "--quiet", "--message", message)
}

// newApp builds an App over the fixture. The output buffer receives results,
// logs go to a SafeBuffer that is dumped on failure.
func (f *repoFixture) newApp(opts Options, with ...Option) (*App, *bytes.Buffer) {
	f.t.Helper()
	opts.Dir = f.root
	if opts.LogLevel == "" {
		opts.LogLevel = "debug"
	}
	out := &bytes.Buffer{}
	logs := &SafeBuffer{}
	clock := WithClock(func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) })
	a, err := New(out, logs, opts, append([]Option{clock}, with...)...)
	require.NoError(f.t, err)
	f.t.Cleanup(func() {
		_ = a.Close()
		if f.t.Failed() {
			f.t.Logf("--- Log output for %s ---\n%s", f.t.Name(), logs.String())
		}
	})
	return a, out
}

type fakeRegistry struct {
	versions map[string][]string
}

func (r *fakeRegistry) Metadata(_ context.Context, name string) (*registry.Metadata, error) {
	v, ok := r.versions[name]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", name, registry.ErrNotFound)
	}
	return &registry.Metadata{Name: name, Versions: v}, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	dirs    []string
	failFor string
}

func (p *fakePublisher) Publish(_ context.Context, req registry.PublishRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor != "" && filepath.Base(req.Dir) == p.failFor {
		return &registry.PublishError{Dir: req.Dir, Kind: registry.KindAuth, Err: fmt.Errorf("exit status 1")}
	}
	p.dirs = append(p.dirs, filepath.Base(req.Dir))
	return nil
}

type fakeHost struct {
	inputs   []hosting.PullRequestInput
	statuses map[string]hosting.Status
}

func (h *fakeHost) CreateOrUpdatePullRequest(_ context.Context, in hosting.PullRequestInput) (*hosting.PullRequest, error) {
	h.inputs = append(h.inputs, in)
	return &hosting.PullRequest{Number: 12, Title: in.Title, Body: in.Body, State: "open", HTMLURL: "https://github.com/acme/widgets/pull/12"}, nil
}

func (h *fakeHost) SetStatus(_ context.Context, sha string, s hosting.Status) error {
	if h.statuses == nil {
		h.statuses = map[string]hosting.Status{}
	}
	h.statuses[sha] = s
	return nil
}

type fixedChooser map[string]plan.Choice

func (c fixedChooser) Choose(_ context.Context, s plan.Suggestion) (plan.Choice, error) {
	return c[s.Package], nil
}
