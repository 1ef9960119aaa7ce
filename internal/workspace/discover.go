package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/fsutil"
	"github.com/vk/monorelease/internal/version"
)

const pnpmWorkspaceFile = "pnpm-workspace.yaml"

type pnpmWorkspace struct {
	Packages []string `yaml:"packages"`
}

// Discover reads the workspace patterns declared at root (pnpm-workspace.yaml
// first, then the "workspaces" field of the root package.json) and loads
// every member manifest. Member names must be unique and versions valid.
func Discover(ctx context.Context, root string) (*Workspace, error) {
	logger := ctxlog.FromContext(ctx)

	patterns, err := workspacePatterns(root)
	if err != nil {
		return nil, err
	}
	logger.Debug("Workspace patterns resolved.", "patterns", patterns)

	dirs, err := expandPatterns(root, patterns)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Root: root, Manifests: make(map[string]*Manifest)}
	dirByName := make(map[string]string)
	for _, dir := range dirs {
		manifestPath := filepath.Join(root, filepath.FromSlash(dir), ManifestFile)
		m, err := ReadManifest(manifestPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if m.Name == "" {
			logger.Debug("Skipping manifest without a name.", "path", manifestPath)
			continue
		}
		if other, dup := dirByName[m.Name]; dup {
			return nil, fmt.Errorf("package %q is declared twice: %s and %s", m.Name, other, dir)
		}
		if _, err := version.Parse(m.Version); err != nil {
			return nil, fmt.Errorf("package %q in %s: %w", m.Name, dir, err)
		}
		dirByName[m.Name] = dir
		ws.Manifests[m.Name] = m
		ws.Packages = append(ws.Packages, Package{
			Name:            m.Name,
			Version:         m.Version,
			Dir:             dir,
			Dependencies:    m.DependencyNames(FieldDependencies, FieldPeerDependencies, FieldOptionalDependencies),
			DevDependencies: m.DependencyNames(FieldDevDependencies),
			Private:         m.Private,
		})
	}

	sort.Slice(ws.Packages, func(i, j int) bool { return ws.Packages[i].Name < ws.Packages[j].Name })
	logger.Debug("Workspace discovered.", "packages", len(ws.Packages))
	return ws, nil
}

func workspacePatterns(root string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(root, pnpmWorkspaceFile))
	switch {
	case err == nil:
		var doc pnpmWorkspace
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", pnpmWorkspaceFile, err)
		}
		if len(doc.Packages) > 0 {
			return doc.Packages, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", pnpmWorkspaceFile, err)
	}

	raw, err = os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read root manifest: %w", err)
	}
	field := gjson.GetBytes(raw, "workspaces")
	if field.IsObject() {
		field = field.Get("packages")
	}
	if !field.IsArray() {
		return nil, errors.New("no workspace packages declared in pnpm-workspace.yaml or package.json")
	}
	var patterns []string
	for _, p := range field.Array() {
		patterns = append(patterns, p.String())
	}
	return patterns, nil
}

// expandPatterns resolves include patterns and removes "!"-prefixed excludes.
func expandPatterns(root string, patterns []string) ([]string, error) {
	included := make(map[string]struct{})
	var excludes []string
	for _, p := range patterns {
		if ex, ok := strings.CutPrefix(p, "!"); ok {
			excludes = append(excludes, strings.Trim(path.Clean(ex), "/"))
			continue
		}
		dirs, err := fsutil.GlobDirs(root, p)
		if err != nil {
			return nil, fmt.Errorf("expand workspace pattern %q: %w", p, err)
		}
		for _, d := range dirs {
			if d != "." {
				included[d] = struct{}{}
			}
		}
	}

	dirs := make([]string, 0, len(included))
	for d := range included {
		if !excluded(d, excludes) {
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func excluded(dir string, excludes []string) bool {
	for _, ex := range excludes {
		if ok, _ := path.Match(ex, dir); ok || dir == ex || strings.HasPrefix(dir, ex+"/") {
			return true
		}
	}
	return false
}
