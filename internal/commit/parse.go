package commit

import (
	"regexp"
	"strings"
	"time"
)

// headerRegex matches "type(scope)!: description". The scope and the bang are
// optional.
var headerRegex = regexp.MustCompile(`^([A-Za-z]+)(?:\(([^()\r\n]*)\))?(!)?: +(.+)$`)

var breakingFooters = []string{"BREAKING CHANGE:", "BREAKING-CHANGE:"}

// Parse builds a Record from raw commit data. subject is the first line of the
// message and body the remainder. Subjects that do not follow the
// conventional format come back with IsConventional false and the whole
// subject as Description.
func Parse(hash, subject, body string, ts time.Time) Record {
	subject = strings.TrimSpace(subject)
	rec := Record{
		Hash:        hash,
		ShortHash:   shorten(hash),
		Description: subject,
		Timestamp:   ts,
	}

	m := headerRegex.FindStringSubmatch(subject)
	if m == nil {
		return rec
	}
	rec.IsConventional = true
	rec.Type = strings.ToLower(m[1])
	rec.Scope = strings.TrimSpace(m[2])
	rec.IsBreaking = m[3] == "!"
	rec.Description = strings.TrimSpace(m[4])

	if !rec.IsBreaking {
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			for _, footer := range breakingFooters {
				if strings.HasPrefix(line, footer) {
					rec.IsBreaking = true
				}
			}
		}
	}
	return rec
}

func shorten(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
