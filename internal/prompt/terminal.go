// Package prompt asks a human to confirm or adjust suggested versions.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/vk/monorelease/internal/bump"
	"github.com/vk/monorelease/internal/plan"
	"github.com/vk/monorelease/internal/version"
)

// ErrAborted is returned when the user leaves a prompt without answering.
var ErrAborted = errors.New("prompt aborted")

const custom = "custom"

// Option is one selectable answer. Value is the version it stands for, or
// "custom" for free input.
type Option struct {
	Label string
	Value string
}

// Answer is the raw outcome of one prompt.
type Answer struct {
	Selected         string
	Custom           string
	ApplyToRemaining bool
}

// Terminal implements plan.Chooser on an interactive terminal.
type Terminal struct {
	In         io.Reader
	Out        io.Writer
	Accessible bool

	// ask runs the prompt; replaced in tests.
	ask func(ctx context.Context, s plan.Suggestion, opts []Option) (Answer, error)
}

// NewTerminal returns a chooser reading from in and drawing on out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{In: in, Out: out}
	t.ask = t.runForm
	return t
}

// Choose asks for the version of s.Package.
func (t *Terminal) Choose(ctx context.Context, s plan.Suggestion) (plan.Choice, error) {
	opts, err := Options(s)
	if err != nil {
		return plan.Choice{}, err
	}
	ask := t.ask
	if ask == nil {
		ask = t.runForm
	}
	a, err := ask(ctx, s, opts)
	if err != nil {
		return plan.Choice{}, err
	}
	return Resolve(s, a)
}

// Options lists the answers offered for s: the suggestion first, then every
// other increment of the current version, then free input.
func Options(s plan.Suggestion) ([]Option, error) {
	opts := []Option{{
		Label: fmt.Sprintf("%s (suggested %s)", s.Version, s.Kind),
		Value: s.Version,
	}}
	for _, k := range []bump.Kind{bump.Patch, bump.Minor, bump.Major} {
		v, err := version.Bump(s.CurrentVersion, k)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", s.Package, err)
		}
		if v == s.Version {
			continue
		}
		opts = append(opts, Option{Label: fmt.Sprintf("%s (%s)", v, k), Value: v})
	}
	return append(opts, Option{Label: "custom version", Value: custom}), nil
}

// Resolve turns an answer into a plan.Choice. Accepting the suggestion yields
// an empty Version.
func Resolve(s plan.Suggestion, a Answer) (plan.Choice, error) {
	v := a.Selected
	if v == custom {
		v = strings.TrimSpace(a.Custom)
		if err := validateCustom(s.CurrentVersion)(v); err != nil {
			return plan.Choice{}, fmt.Errorf("package %s: %w", s.Package, err)
		}
	}
	if v == s.Version {
		v = ""
	}
	return plan.Choice{Version: v, ApplyToRemaining: a.ApplyToRemaining}, nil
}

func validateCustom(current string) func(string) error {
	return func(v string) error {
		v = strings.TrimSpace(v)
		c, err := version.Compare(v, current)
		if err != nil {
			return err
		}
		if c <= 0 {
			return fmt.Errorf("version %s must be greater than %s", v, current)
		}
		return nil
	}
}

func summary(s plan.Suggestion) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "current %s", s.CurrentVersion)
	for i, c := range s.Commits {
		if i == 5 {
			fmt.Fprintf(&sb, "\n… %d more", len(s.Commits)-i)
			break
		}
		fmt.Fprintf(&sb, "\n%s %s", c.ShortHash, c.Description)
	}
	return sb.String()
}

func (t *Terminal) form(groups ...*huh.Group) *huh.Form {
	f := huh.NewForm(groups...).WithAccessible(t.Accessible)
	if t.In != nil {
		f = f.WithInput(t.In)
	}
	if t.Out != nil {
		f = f.WithOutput(t.Out)
	}
	return f
}

func (t *Terminal) runForm(ctx context.Context, s plan.Suggestion, opts []Option) (Answer, error) {
	var a Answer
	a.Selected = opts[0].Value

	huhOpts := make([]huh.Option[string], 0, len(opts))
	for _, o := range opts {
		huhOpts = append(huhOpts, huh.NewOption(o.Label, o.Value))
	}
	err := t.form(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Next version of "+s.Package).
				Description(summary(s)).
				Options(huhOpts...).
				Value(&a.Selected),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Version").
				Placeholder(s.Version).
				Validate(validateCustom(s.CurrentVersion)).
				Value(&a.Custom),
		).WithHideFunc(func() bool { return a.Selected != custom }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Apply to the remaining packages?").
				Affirmative("Yes").
				Negative("No").
				Value(&a.ApplyToRemaining),
		),
	).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return Answer{}, ErrAborted
	}
	if err != nil {
		return Answer{}, fmt.Errorf("prompt for %s: %w", s.Package, err)
	}
	return a, nil
}
