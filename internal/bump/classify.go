package bump

import "github.com/vk/monorelease/internal/commit"

// Classify maps one commit to the bump it requires.
func Classify(c commit.Record) Kind {
	switch {
	case c.IsBreaking:
		return Major
	case !c.IsConventional || c.Type == "":
		return None
	case c.Type == "feat":
		return Minor
	case c.Type == "fix" || c.Type == "perf":
		return Patch
	default:
		// docs, style, refactor, test, build, ci, chore, revert and unknown
		// types never release on their own.
		return None
	}
}

// Aggregate returns the most severe bump required by commits. An empty slice
// yields None.
func Aggregate(commits []commit.Record) Kind {
	kind := None
	for _, c := range commits {
		kind = Max(kind, Classify(c))
		if kind == Major {
			break
		}
	}
	return kind
}
