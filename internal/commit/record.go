// Package commit models commits read from version control and parses
// conventional-commit headers.
package commit

import (
	"path"
	"strings"
	"time"
)

// Record is one commit as seen by the versioning engine. Files is empty until
// the attribution engine attaches the batched changed-file list.
type Record struct {
	Hash           string
	ShortHash      string
	Type           string
	Scope          string
	Description    string
	IsBreaking     bool
	IsConventional bool
	Timestamp      time.Time
	Files          []string
}

// Touches reports whether any changed file lives under dir. dir is a
// slash-separated, repository-relative directory.
func (r Record) Touches(dir string) bool {
	for _, f := range r.Files {
		if InDir(f, dir) {
			return true
		}
	}
	return false
}

// InDir reports whether file is dir itself or nested below it.
func InDir(file, dir string) bool {
	dir = strings.TrimSuffix(path.Clean(dir), "/")
	if dir == "." || dir == "" {
		return true
	}
	file = path.Clean(file)
	return file == dir || strings.HasPrefix(file, dir+"/")
}
