package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const workspaceProtocol = "workspace:"

// RangeError is returned when a compound range would no longer admit the new
// version. Merging compound ranges is not attempted.
type RangeError struct {
	Range   string
	Version string
	Reason  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("cannot rewrite range %q for %s: %s", e.Range, e.Version, e.Reason)
}

// passthroughPrefixes mark specifiers that do not name a registry version.
var passthroughPrefixes = []string{
	"file:", "link:", "portal:", "patch:", "npm:", "git:", "git+", "github:",
	"http:", "https:",
}

// distTagRegex matches dist-tag specifiers such as "latest" or "next".
var distTagRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

// exactPrefix reports whether s is a single version, possibly written with a
// leading "v" or "=", and returns that prefix.
func exactPrefix(s string) (string, bool) {
	for _, prefix := range []string{"", "v", "V", "=", "=v"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok && Valid(rest) {
			return prefix, true
		}
	}
	return "", false
}

// RewriteRange returns the range a dependent should declare once the target
// is released as newVersion. Caret, tilde and exact ranges follow the new
// version and keep their style. Wildcards, workspace shorthands and
// non-registry specifiers come back unchanged. Compound ranges are kept when
// they still admit newVersion and rejected with a *RangeError otherwise.
func RewriteRange(rng, newVersion string) (string, error) {
	next, err := Parse(newVersion)
	if err != nil {
		return "", err
	}

	spec := strings.TrimSpace(rng)
	if inner, ok := strings.CutPrefix(spec, workspaceProtocol); ok {
		switch inner {
		case "", "*", "^", "~":
			return rng, nil
		}
		rewritten, err := RewriteRange(inner, newVersion)
		if err != nil {
			return "", err
		}
		return workspaceProtocol + rewritten, nil
	}

	switch spec {
	case "", "*", "x", "X":
		return rng, nil
	}
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(spec, prefix) {
			return rng, nil
		}
	}

	if prefix, ok := exactPrefix(spec); ok {
		return prefix + next.String(), nil
	}
	if op := spec[0]; op == '^' || op == '~' {
		rest := spec[1:]
		if prefix, ok := exactPrefix(rest); ok && !strings.HasPrefix(rest, ">") {
			return string(op) + prefix + next.String(), nil
		}
	}
	if distTagRegex.MatchString(spec) {
		return rng, nil
	}

	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return "", &RangeError{Range: rng, Version: newVersion, Reason: "unparseable range"}
	}
	if constraint.Check(next) {
		return rng, nil
	}
	return "", &RangeError{Range: rng, Version: newVersion, Reason: "compound range does not admit the new version"}
}
