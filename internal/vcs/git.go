// Package vcs is the git collaborator: every repository read and write the
// release workflows need, executed as git subprocesses.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vk/monorelease/internal/commit"
	"github.com/vk/monorelease/internal/ctxlog"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// CommandError is returned when a git invocation exits non-zero.
type CommandError struct {
	Op     string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", e.Op, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ErrPathNotFound is returned by Show when path does not exist at ref.
var ErrPathNotFound = errors.New("path not found at revision")

// LogQuery selects commits reachable from To but not from From. An empty From
// means the beginning of history; an empty To means HEAD. Path optionally
// restricts the log to commits touching that directory.
type LogQuery struct {
	From string
	To   string
	Path string
}

func (q LogQuery) rangeSpec() string {
	to := q.To
	if to == "" {
		to = "HEAD"
	}
	if q.From == "" {
		return to
	}
	return q.From + ".." + to
}

// Git runs git in Dir. Env entries are appended to the process environment.
type Git struct {
	Dir string
	Env []string
}

// New returns a Git rooted at dir.
func New(dir string) *Git {
	return &Git{Dir: dir}
}

func (g *Git) run(ctx context.Context, op string, args ...string) (string, error) {
	logger := ctxlog.FromContext(ctx)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	if len(g.Env) > 0 {
		cmd.Env = append(os.Environ(), g.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Running git.", "op", op, "args", args)
	if err := cmd.Run(); err != nil {
		return "", &CommandError{Op: op, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Tags lists tags starting with prefix.
func (g *Git) Tags(ctx context.Context, prefix string) ([]string, error) {
	out, err := g.run(ctx, "list tags", "tag", "--list", prefix+"*")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// TagTime returns the committer timestamp of the commit a tag points at.
func (g *Git) TagTime(ctx context.Context, tag string) (time.Time, error) {
	out, err := g.run(ctx, "tag time", "log", "-1", "--format=%ct", tag+"^{commit}")
	if err != nil {
		return time.Time{}, err
	}
	return parseUnix(strings.TrimSpace(out))
}

// Log lists the commits selected by q, newest first, without changed files.
func (g *Git) Log(ctx context.Context, q LogQuery) ([]commit.Record, error) {
	args := []string{"log", "--format=%H" + fieldSep + "%ct" + fieldSep + "%s" + fieldSep + "%b" + recordSep, q.rangeSpec()}
	if q.Path != "" {
		args = append(args, "--", q.Path)
	}
	out, err := g.run(ctx, "log", args...)
	if err != nil {
		return nil, err
	}
	return parseLog(out)
}

// ChangedFiles returns the paths changed by every commit in from..to, keyed by
// full hash, using a single git invocation. Paths are returned unquoted.
func (g *Git) ChangedFiles(ctx context.Context, from, to string) (map[string][]string, error) {
	q := LogQuery{From: from, To: to}
	out, err := g.run(ctx, "changed files", "-c", "core.quotePath=false", "log", "--name-only", "--format="+recordSep+"%H", q.rangeSpec())
	if err != nil {
		return nil, err
	}
	return parseChangedFiles(out), nil
}

// Show reads path as of ref without touching the working tree. A path
// missing at ref yields ErrPathNotFound.
func (g *Git) Show(ctx context.Context, ref, path string) ([]byte, error) {
	out, err := g.run(ctx, "show", "show", ref+":"+path)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && (strings.Contains(cmdErr.Stderr, "does not exist in") || strings.Contains(cmdErr.Stderr, "exists on disk, but not in")) {
			return nil, fmt.Errorf("%s:%s: %w", ref, path, ErrPathNotFound)
		}
		return nil, err
	}
	return []byte(out), nil
}

// RefExists reports whether ref resolves to a commit.
func (g *Git) RefExists(ctx context.Context, ref string) (bool, error) {
	_, err := g.run(ctx, "rev-parse", "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// IsClean reports whether the working tree has no staged, unstaged or
// untracked changes.
func (g *Git) IsClean(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// Head returns the full hash of HEAD.
func (g *Git) Head(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CheckoutBranch creates or resets branch to start and checks it out.
func (g *Git) CheckoutBranch(ctx context.Context, branch, start string) error {
	args := []string{"checkout", "-B", branch}
	if start != "" {
		args = append(args, start)
	}
	_, err := g.run(ctx, "checkout", args...)
	return err
}

// Fetch updates remote-tracking refs and tags.
func (g *Git) Fetch(ctx context.Context, remote string) error {
	_, err := g.run(ctx, "fetch", "fetch", "--tags", remote)
	return err
}

// CommitAll stages every change and commits it with message.
func (g *Git) CommitAll(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "add", "add", "--all"); err != nil {
		return err
	}
	_, err := g.run(ctx, "commit", "commit", "--message", message)
	return err
}

// Push pushes branch to remote. force uses --force-with-lease.
func (g *Git) Push(ctx context.Context, remote, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remote, branch)
	_, err := g.run(ctx, "push", args...)
	return err
}

// CreateTag creates an annotated tag on HEAD.
func (g *Git) CreateTag(ctx context.Context, name, message string) error {
	_, err := g.run(ctx, "tag", "tag", "--annotate", name, "--message", message)
	return err
}

// PushTags pushes the named tags to remote.
func (g *Git) PushTags(ctx context.Context, remote string, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	args := []string{"push", remote}
	for _, t := range tags {
		args = append(args, "refs/tags/"+t)
	}
	_, err := g.run(ctx, "push tags", args...)
	return err
}

func parseLog(out string) ([]commit.Record, error) {
	var records []commit.Record
	for _, raw := range strings.Split(out, recordSep) {
		raw = strings.TrimLeft(raw, "\n")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		parts := strings.SplitN(raw, fieldSep, 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("unexpected git log record %q", raw)
		}
		ts, err := parseUnix(parts[1])
		if err != nil {
			return nil, err
		}
		body := ""
		if len(parts) == 4 {
			body = parts[3]
		}
		records = append(records, commit.Parse(strings.TrimSpace(parts[0]), parts[2], body, ts))
	}
	return records, nil
}

func parseChangedFiles(out string) map[string][]string {
	files := make(map[string][]string)
	for _, block := range strings.Split(out, recordSep) {
		lines := splitLines(block)
		if len(lines) == 0 {
			continue
		}
		paths := make([]string, 0, len(lines)-1)
		for _, line := range lines[1:] {
			paths = append(paths, unquotePath(line))
		}
		files[lines[0]] = paths
	}
	return files
}

// unquotePath undoes git's C-style quoting, which survives core.quotePath=false
// for paths holding control characters, quotes or backslashes.
func unquotePath(p string) string {
	if len(p) < 2 || p[0] != '"' || p[len(p)-1] != '"' {
		return p
	}
	if s, err := strconv.Unquote(p); err == nil {
		return s
	}
	return p
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit timestamp %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// IsNotRepository reports whether err came from running outside a git
// repository.
func IsNotRepository(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "not a git repository")
}
