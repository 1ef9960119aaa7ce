// Package override persists versions chosen by a human so that reruns keep
// honouring them until they are published.
package override

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/monorelease/internal/bump"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/version"
)

// Path is the override file location relative to the repository root.
const Path = ".monorelease/overrides.json"

// Record is one persisted override. Type is informational.
type Record struct {
	Version string    `json:"version"`
	Type    bump.Kind `json:"type"`
}

// Store is the override mapping of one repository. It is read once when
// opened and rewritten on every successful Set or Prune.
type Store struct {
	path    string
	dryRun  bool
	records map[string]Record
}

// Open reads the override file under root. A missing file yields an empty
// store; a malformed one is logged and treated as empty.
func Open(ctx context.Context, root string, dryRun bool) *Store {
	s := &Store{
		path:    filepath.Join(root, filepath.FromSlash(Path)),
		dryRun:  dryRun,
		records: map[string]Record{},
	}
	logger := ctxlog.FromContext(ctx)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Could not read override file, ignoring overrides.", "path", s.path, "error", err)
		}
		return s
	}
	records, err := Decode(raw)
	if err != nil {
		logger.Warn("Override file is malformed, ignoring overrides.", "path", s.path, "error", err)
		return s
	}
	for name, r := range records {
		s.records[name] = r
	}
	logger.Debug("Loaded overrides.", "path", s.path, "count", len(s.records))
	return s
}

// Decode parses the contents of an override file.
func Decode(raw []byte) (map[string]Record, error) {
	var records map[string]Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}
	return records, nil
}

// Get returns the override for name.
func (s *Store) Get(name string) (Record, bool) {
	r, ok := s.records[name]
	return r, ok
}

// Records returns a copy of every override.
func (s *Store) Records() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Names returns the overridden package names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.records))
	for k := range s.records {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Set merges updates into the mapping and persists it. In dry-run mode the
// store is left untouched.
func (s *Store) Set(ctx context.Context, updates map[string]Record) error {
	if len(updates) == 0 {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	if s.dryRun {
		logger.Info("Dry run, not persisting overrides.", "count", len(updates))
		return nil
	}
	for name, r := range updates {
		if _, err := version.Parse(r.Version); err != nil {
			return fmt.Errorf("override for %s: %w", name, err)
		}
	}
	for name, r := range updates {
		s.records[name] = r
	}
	return s.save()
}

// Merge adds records that have no local entry and persists the result. It
// returns the names it added. Local entries win.
func (s *Store) Merge(ctx context.Context, records map[string]Record) ([]string, error) {
	updates := make(map[string]Record)
	for name, r := range records {
		if _, ok := s.records[name]; !ok {
			updates[name] = r
		}
	}
	if err := s.Set(ctx, updates); err != nil {
		return nil, err
	}
	added := make([]string, 0, len(updates))
	for name := range updates {
		added = append(added, name)
	}
	sort.Strings(added)
	return added, nil
}

// Prune drops the override of name once published is at or above the
// recorded version. It reports whether an entry was removed. In dry-run mode
// the entry only leaves the in-memory mapping.
func (s *Store) Prune(ctx context.Context, name, published string) (bool, error) {
	r, ok := s.records[name]
	if !ok {
		return false, nil
	}
	c, err := version.Compare(published, r.Version)
	if err != nil {
		return false, fmt.Errorf("prune override for %s: %w", name, err)
	}
	if c < 0 {
		return false, nil
	}
	ctxlog.FromContext(ctx).Debug("Pruning satisfied override.", "package", name, "override", r.Version, "published", published)
	delete(s.records, name)
	if s.dryRun {
		return true, nil
	}
	return true, s.save()
}

func (s *Store) save() error {
	if len(s.records) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove override file: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	return writeAtomic(s.path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create override directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".overrides-*.json")
	if err != nil {
		return fmt.Errorf("create temp override file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write override file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write override file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace override file: %w", err)
	}
	return nil
}
