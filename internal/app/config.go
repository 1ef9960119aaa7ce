package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/vk/monorelease/internal/attribution"
	"github.com/vk/monorelease/internal/config"
)

// Options holds the per-invocation settings that come from the command line.
// Zero values leave the file configuration untouched.
type Options struct {
	Dir        string
	ConfigPath string
	LogFormat  string
	LogLevel   string

	DryRun      bool
	JSON        bool
	Interactive bool
	OTP         string
	Attribution string
	Workers     int
	DistTag     string
}

// Validate checks the options that do not depend on the configuration file.
func (o Options) Validate() error {
	var errs []error
	if o.LogLevel != "" && !slices.Contains(LogLevels, o.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of %v", o.LogLevel, LogLevels))
	}
	if o.LogFormat != "" && !slices.Contains(LogFormats, o.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of %v", o.LogFormat, LogFormats))
	}
	if o.Attribution != "" {
		if _, err := attribution.ParseMode(o.Attribution); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", o.Workers))
	}
	return errors.Join(errs...)
}

// root resolves the repository root.
func (o Options) root() (string, error) {
	dir := o.Dir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory %s: %w", dir, err)
	}
	return abs, nil
}

// loadConfig reads the release configuration below root and lays the
// command-line options over it.
func loadConfig(ctx context.Context, root string, o Options) (*config.Config, error) {
	path := o.ConfigPath
	switch {
	case path == "":
		path = filepath.Join(root, config.FileName)
	case !filepath.IsAbs(path):
		path = filepath.Join(root, path)
	}
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	if o.Attribution != "" {
		cfg.Attribution = o.Attribution
	}
	if o.Workers > 0 {
		cfg.Workers = o.Workers
	}
	if o.DistTag != "" {
		cfg.Registry.DistTag = o.DistTag
	}
	if cfg.Registry.Token == "" {
		cfg.Registry.Token = os.Getenv("NPM_TOKEN")
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
