// Package bump defines release severities and the rules that derive them
// from conventional commits.
package bump

import (
	"fmt"
	"strings"
)

// Kind is the severity of a required version increment. The zero value is
// None and the constants are declared in ascending order, so Kinds compare
// with < and >.
type Kind int

const (
	None Kind = iota
	Patch
	Minor
	Major
)

var kindNames = [...]string{"none", "patch", "minor", "major"}

func (k Kind) String() string {
	if k < None || k > Major {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of String and accepts any letter case.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return None, fmt.Errorf("unknown bump kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so Kind persists as its name.
func (k Kind) MarshalText() ([]byte, error) {
	if k < None || k > Major {
		return nil, fmt.Errorf("invalid bump kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Max returns the more severe of a and b.
func Max(a, b Kind) Kind {
	if a > b {
		return a
	}
	return b
}
