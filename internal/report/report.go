// Package report renders a release plan for people (terminal table,
// pull request body) and for machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vk/monorelease/internal/plan"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorWarning = lipgloss.Color("#F4D03F")
	colorMuted   = lipgloss.Color("#5C6A72")
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
	border  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorAccent),
		header:  r.NewStyle().Bold(true).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		muted:   r.NewStyle().Foreground(colorMuted),
		warning: r.NewStyle().Foreground(colorWarning),
		border:  r.NewStyle().Foreground(colorMuted),
	}
}

// Reason explains why r is released.
func Reason(r plan.Release) string {
	switch {
	case r.Overridden:
		return "override"
	case r.HasDirectChanges:
		return "commits"
	default:
		return "dependency"
	}
}

// Text writes the plan as a styled table. Colors follow the capabilities of w.
func Text(w io.Writer, p *plan.Plan) error {
	st := newStyles(lipgloss.NewRenderer(w))
	var sb strings.Builder

	if p.Empty() {
		sb.WriteString(st.muted.Render("No packages to release."))
		sb.WriteString("\n")
	} else {
		sb.WriteString(st.title.Render(fmt.Sprintf("%d package(s) to release", len(p.Releases))))
		sb.WriteString("\n")

		rows := make([][]string, 0, len(p.Releases))
		for _, r := range p.Releases {
			rows = append(rows, []string{r.Package, r.CurrentVersion, r.NewVersion, r.Kind.String(), Reason(r)})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(st.border).
			Headers("PACKAGE", "CURRENT", "NEXT", "BUMP", "REASON").
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return st.header
				}
				return st.cell
			})
		sb.WriteString(t.Render())
		sb.WriteString("\n")
	}

	if len(p.RangeUpdates) > 0 {
		sb.WriteString("\n")
		sb.WriteString(st.title.Render("Dependency ranges"))
		sb.WriteString("\n")
		for _, u := range p.RangeUpdates {
			fmt.Fprintf(&sb, "  %s %s %s: %s → %s\n", u.Package, st.muted.Render(u.Field), u.Dependency, u.From, u.To)
		}
	}
	for _, name := range p.HeldOverrides {
		sb.WriteString(st.muted.Render(fmt.Sprintf("%s is held at its override until it is published", name)))
		sb.WriteString("\n")
	}
	for _, name := range p.StaleOverrides {
		sb.WriteString(st.warning.Render(fmt.Sprintf("override for %s is below the current version and was ignored", name)))
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// JSON writes the plan as indented JSON.
func JSON(w io.Writer, p *plan.Plan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return nil
}

// Markdown renders the plan as the body of a release pull request.
func Markdown(p *plan.Plan) string {
	var sb strings.Builder
	sb.WriteString("## Releases\n\n")
	if p.Empty() {
		sb.WriteString("No packages to release.\n")
		return sb.String()
	}
	sb.WriteString("| Package | Current | Next | Bump | Reason |\n")
	sb.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, r := range p.Releases {
		fmt.Fprintf(&sb, "| `%s` | %s | **%s** | %s | %s |\n", r.Package, r.CurrentVersion, r.NewVersion, r.Kind, Reason(r))
	}

	var notes []string
	for _, r := range p.Releases {
		for _, c := range r.Commits {
			notes = append(notes, fmt.Sprintf("- `%s` %s: %s", r.Package, c.ShortHash, c.Description))
		}
	}
	if len(notes) > 0 {
		sb.WriteString("\n<details><summary>Commits</summary>\n\n")
		sb.WriteString(strings.Join(notes, "\n"))
		sb.WriteString("\n\n</details>\n")
	}
	if len(p.RangeUpdates) > 0 {
		sb.WriteString("\n## Dependency ranges\n\n")
		for _, u := range p.RangeUpdates {
			fmt.Fprintf(&sb, "- `%s` %s `%s`: `%s` → `%s`\n", u.Package, u.Field, u.Dependency, u.From, u.To)
		}
	}
	return sb.String()
}
