// Package workspace discovers the publishable packages of a multi-package
// repository and edits their manifests.
package workspace

// Package is one workspace member. Dependencies and DevDependencies hold every
// declared name, sorted; the graph builder narrows them to workspace members.
// Dir is repository relative and slash separated.
type Package struct {
	Name            string
	Version         string
	Dir             string
	Dependencies    []string
	DevDependencies []string
	Private         bool
}

// Workspace is the result of discovery: the packages sorted by name and their
// manifests keyed by package name.
type Workspace struct {
	Root      string
	Packages  []Package
	Manifests map[string]*Manifest
}

// Package looks up a member by name.
func (w *Workspace) Package(name string) (Package, bool) {
	for _, p := range w.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

