// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// skippedDirs are never descended into while matching.
var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// GlobDirs returns the slash-separated directories below root that match
// pattern. Patterns use path.Match syntax per segment, plus "**" for any
// number of segments. The result is sorted and relative to root.
func GlobDirs(root, pattern string) ([]string, error) {
	pattern = strings.Trim(path.Clean(filepath.ToSlash(pattern)), "/")
	if pattern == "." || pattern == "" {
		return []string{"."}, nil
	}
	patternParts := strings.Split(pattern, "/")
	for _, part := range patternParts {
		if _, err := path.Match(part, ""); err != nil {
			return nil, err
		}
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if matchSegments(patternParts, strings.Split(rel, "/")) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// matchSegments matches path segments against pattern segments where "**"
// consumes zero or more segments.
func matchSegments(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(segments); i++ {
			if matchSegments(pattern[1:], segments[i:]) {
				return true
			}
		}
		return false
	}
	if len(segments) == 0 {
		return false
	}
	ok, _ := path.Match(pattern[0], segments[0])
	return ok && matchSegments(pattern[1:], segments[1:])
}
