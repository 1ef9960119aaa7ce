// Package version wraps semantic version arithmetic and the rewriting of npm
// dependency ranges when a workspace dependency is re-released.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/monorelease/internal/bump"
)

// InvalidError reports a string that is not a strict X.Y.Z[-pre][+build]
// version.
type InvalidError struct {
	Value string
	Err   error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid semver %q: %v", e.Value, e.Err)
}

func (e *InvalidError) Unwrap() error { return e.Err }

// Parse validates s strictly: no "v" prefix and all three components.
func Parse(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, &InvalidError{Value: s, Err: err}
	}
	return v, nil
}

// Valid reports whether s parses with Parse.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Bump increments the component selected by kind and zeroes the lower ones.
// None returns current unchanged.
func Bump(current string, kind bump.Kind) (string, error) {
	v, err := Parse(current)
	if err != nil {
		return "", err
	}
	var next semver.Version
	switch kind {
	case bump.None:
		return v.String(), nil
	case bump.Patch:
		next = v.IncPatch()
	case bump.Minor:
		next = v.IncMinor()
	case bump.Major:
		next = v.IncMajor()
	default:
		return "", fmt.Errorf("cannot bump %s by %s", current, kind)
	}
	return next.String(), nil
}

// Compare returns -1, 0 or 1 comparing a with b. Both must be valid.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// KindBetween reports which component changed from prev to next, for display
// of explicitly chosen versions. Equal or lower versions yield None.
func KindBetween(prev, next string) bump.Kind {
	a, err := Parse(prev)
	if err != nil {
		return bump.None
	}
	b, err := Parse(next)
	if err != nil || !b.GreaterThan(a) {
		return bump.None
	}
	switch {
	case b.Major() != a.Major():
		return bump.Major
	case b.Minor() != a.Minor():
		return bump.Minor
	default:
		return bump.Patch
	}
}
