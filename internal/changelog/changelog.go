// Package changelog renders release notes for a package and prepends them to
// its CHANGELOG.md.
package changelog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/vk/monorelease/internal/bump"
	"github.com/vk/monorelease/internal/commit"
	"github.com/vk/monorelease/internal/plan"
)

// FileName is the changelog file kept in every package directory.
const FileName = "CHANGELOG.md"

var sections = []struct {
	kind  bump.Kind
	title string
}{
	{bump.Major, "Major Changes"},
	{bump.Minor, "Minor Changes"},
	{bump.Patch, "Patch Changes"},
}

// Render returns the markdown section for r. deps lists the updated workspace
// dependencies as name@version; date is omitted when zero.
func Render(r plan.Release, deps []string, date time.Time) string {
	grouped := make(map[bump.Kind][]commit.Record)
	for _, c := range r.Commits {
		if k := bump.Classify(c); k != bump.None {
			grouped[k] = append(grouped[k], c)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n", r.NewVersion)
	if !date.IsZero() {
		fmt.Fprintf(&sb, "\n_%s_\n", date.Format(time.DateOnly))
	}

	wrote := false
	for _, s := range sections {
		lines := grouped[s.kind]
		withDeps := s.kind == bump.Patch && len(deps) > 0
		if len(lines) == 0 && !withDeps {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n\n", s.title)
		for _, c := range lines {
			fmt.Fprintf(&sb, "- %s: %s\n", c.ShortHash, describe(c))
		}
		if withDeps {
			sb.WriteString("- Updated dependencies\n")
			for _, d := range deps {
				fmt.Fprintf(&sb, "  - %s\n", d)
			}
		}
		wrote = true
	}
	if !wrote {
		fmt.Fprintf(&sb, "\n### %s\n\n- Version bump only\n", kindTitle(r.Kind))
	}
	return sb.String()
}

func describe(c commit.Record) string {
	if c.Scope != "" {
		return fmt.Sprintf("**%s:** %s", c.Scope, c.Description)
	}
	return c.Description
}

func kindTitle(k bump.Kind) string {
	for _, s := range sections {
		if s.kind == k {
			return s.title
		}
	}
	return "Patch Changes"
}

// Prepend inserts section at the top of the changelog at path, below its
// leading "# " title. A missing file is created with title as its heading.
func Prepend(path, title, section string) error {
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read changelog: %w", err)
	}
	existing := string(raw)
	section = strings.TrimRight(section, "\n") + "\n"

	var out string
	switch {
	case strings.TrimSpace(existing) == "":
		out = "# " + title + "\n\n" + section
	case strings.HasPrefix(existing, "# "):
		heading, rest, _ := strings.Cut(existing, "\n")
		rest = strings.TrimLeft(rest, "\n")
		out = heading + "\n\n" + section
		if rest != "" {
			out += "\n" + rest
		}
	default:
		out = section + "\n" + existing
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write changelog: %w", err)
	}
	return nil
}
