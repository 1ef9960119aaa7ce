package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/sjson"
)

// ManifestFile is the name of a package manifest.
const ManifestFile = "package.json"

// Dependency fields of a manifest, in the order they are rewritten.
const (
	FieldDependencies         = "dependencies"
	FieldDevDependencies      = "devDependencies"
	FieldPeerDependencies     = "peerDependencies"
	FieldOptionalDependencies = "optionalDependencies"
)

// DependencyFields lists every field that may reference a workspace package.
var DependencyFields = []string{
	FieldDependencies,
	FieldDevDependencies,
	FieldPeerDependencies,
	FieldOptionalDependencies,
}

type manifestDoc struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Private              bool              `json:"private"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

// Manifest is a package.json kept as raw bytes. Edits go through sjson so the
// original key order and indentation survive a rewrite.
type Manifest struct {
	Path    string
	Name    string
	Version string
	Private bool

	ranges map[string]map[string]string
	raw    []byte
	dirty  bool
}

// ReadManifest loads and decodes the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(path, raw)
}

// ParseManifest decodes raw manifest bytes. path is only used for reporting
// and writing.
func ParseManifest(path string, raw []byte) (*Manifest, error) {
	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &Manifest{
		Path:    path,
		Name:    doc.Name,
		Version: doc.Version,
		Private: doc.Private,
		ranges: map[string]map[string]string{
			FieldDependencies:         doc.Dependencies,
			FieldDevDependencies:      doc.DevDependencies,
			FieldPeerDependencies:     doc.PeerDependencies,
			FieldOptionalDependencies: doc.OptionalDependencies,
		},
		raw: raw,
	}, nil
}

// Range returns the declared range of dep in field.
func (m *Manifest) Range(field, dep string) (string, bool) {
	r, ok := m.ranges[field][dep]
	return r, ok
}

// DependencyNames returns the sorted names declared in the given fields.
func (m *Manifest) DependencyNames(fields ...string) []string {
	seen := make(map[string]struct{})
	for _, f := range fields {
		for name := range m.ranges[f] {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetVersion replaces the manifest's version field.
func (m *Manifest) SetVersion(v string) error {
	raw, err := sjson.SetBytes(m.raw, "version", v)
	if err != nil {
		return fmt.Errorf("set version in %s: %w", m.Path, err)
	}
	m.raw, m.Version, m.dirty = raw, v, true
	return nil
}

// SetRange replaces the range of an existing dependency declaration.
func (m *Manifest) SetRange(field, dep, rng string) error {
	if _, ok := m.ranges[field][dep]; !ok {
		return fmt.Errorf("%s does not declare %s in %s", m.Path, dep, field)
	}
	raw, err := sjson.SetBytes(m.raw, field+"."+escapeKey(dep), rng)
	if err != nil {
		return fmt.Errorf("set %s range in %s: %w", dep, m.Path, err)
	}
	m.raw, m.ranges[field][dep], m.dirty = raw, rng, true
	return nil
}

// Write persists the manifest if it was modified.
func (m *Manifest) Write() error {
	if !m.dirty {
		return nil
	}
	if err := os.WriteFile(m.Path, m.raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	m.dirty = false
	return nil
}

// escapeKey escapes sjson path metacharacters in an object key.
func escapeKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
