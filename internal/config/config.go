// Package config loads the release configuration from release.hcl at the
// repository root.
//
// Every attribute is optional. Defaults are applied after decoding and the
// result is validated before use. The evaluation context exposes the process
// environment as env.NAME so secrets stay out of the file:
//
//	github {
//	  repository = "acme/widgets"
//	  token      = env.GITHUB_TOKEN
//	}
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/monorelease/internal/ctxlog"
)

// FileName is the configuration file looked up at the repository root.
const FileName = "release.hcl"

// Defaults.
const (
	DefaultAttribution        = "all"
	DefaultWorkers            = 4
	DefaultBaseBranch         = "main"
	DefaultReleaseBranch      = "monorelease/next"
	DefaultRemote             = "origin"
	DefaultRegistryURL        = "https://registry.npmjs.org"
	DefaultDistTag            = "latest"
	DefaultPublishAttempts    = 5
	DefaultStatusContext      = "monorelease"
	DefaultGitHubAPIURL       = "https://api.github.com"
	DefaultPullRequestTitle   = "Release packages"
	DefaultReleaseCommitTitle = "chore: release packages"
)

// Config is the validated release configuration.
type Config struct {
	Attribution   string `validate:"oneof=all dependencies none"`
	Workers       int    `validate:"min=1,max=64"`
	BaseBranch    string `validate:"required"`
	ReleaseBranch string `validate:"required,nefield=BaseBranch"`
	Remote        string `validate:"required"`
	Changelog     bool
	CommitMessage string `validate:"required"`
	Registry      Registry
	GitHub        GitHub
}

// Registry configures the package registry.
type Registry struct {
	URL                string `validate:"required,url"`
	DistTag            string `validate:"required"`
	MaxPublishAttempts int    `validate:"min=1,max=20"`
	Token              string
}

// GitHub configures the code host. Repository may stay empty when the pr
// workflow is not used.
type GitHub struct {
	Repository    string `validate:"omitempty,contains=/"`
	Token         string
	StatusContext string `validate:"required"`
	APIURL        string `validate:"required,url"`
	Title         string `validate:"required"`
}

type fileRoot struct {
	Attribution   *string       `hcl:"attribution,optional"`
	Workers       *int          `hcl:"workers,optional"`
	BaseBranch    *string       `hcl:"base_branch,optional"`
	ReleaseBranch *string       `hcl:"release_branch,optional"`
	Remote        *string       `hcl:"remote,optional"`
	Changelog     *bool         `hcl:"changelog,optional"`
	CommitMessage *string       `hcl:"commit_message,optional"`
	Registry      *registryBody `hcl:"registry,block"`
	GitHub        *githubBody   `hcl:"github,block"`
}

type registryBody struct {
	URL                *string `hcl:"url,optional"`
	DistTag            *string `hcl:"dist_tag,optional"`
	MaxPublishAttempts *int    `hcl:"max_publish_attempts,optional"`
	Token              *string `hcl:"token,optional"`
}

type githubBody struct {
	Repository    *string `hcl:"repository,optional"`
	Token         *string `hcl:"token,optional"`
	StatusContext *string `hcl:"status_context,optional"`
	APIURL        *string `hcl:"api_url,optional"`
	Title         *string `hcl:"pull_request_title,optional"`
}

var validate = validator.New()

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Attribution:   DefaultAttribution,
		Workers:       DefaultWorkers,
		BaseBranch:    DefaultBaseBranch,
		ReleaseBranch: DefaultReleaseBranch,
		Remote:        DefaultRemote,
		Changelog:     true,
		CommitMessage: DefaultReleaseCommitTitle,
		Registry: Registry{
			URL:                DefaultRegistryURL,
			DistTag:            DefaultDistTag,
			MaxPublishAttempts: DefaultPublishAttempts,
		},
		GitHub: GitHub{
			StatusContext: DefaultStatusContext,
			APIURL:        DefaultGitHubAPIURL,
			Title:         DefaultPullRequestTitle,
		},
	}
}

// Load reads path. A missing file yields the defaults.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("No release configuration found, using defaults.", "path", path)
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(src, path, os.Environ())
	if err != nil {
		return nil, err
	}
	logger.Debug("Release configuration loaded.", "path", path, "attribution", cfg.Attribution, "workers", cfg.Workers)
	return cfg, nil
}

// Parse decodes src with environ ("KEY=value" pairs) available as env.KEY.
func Parse(src []byte, filename string, environ []string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, evalContext(environ), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, diags)
	}

	cfg := Default()
	root.applyTo(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks the value constraints of c.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

func evalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (r *fileRoot) applyTo(cfg *Config) {
	set(&cfg.Attribution, r.Attribution)
	set(&cfg.Workers, r.Workers)
	set(&cfg.BaseBranch, r.BaseBranch)
	set(&cfg.ReleaseBranch, r.ReleaseBranch)
	set(&cfg.Remote, r.Remote)
	set(&cfg.Changelog, r.Changelog)
	set(&cfg.CommitMessage, r.CommitMessage)
	if b := r.Registry; b != nil {
		set(&cfg.Registry.URL, b.URL)
		set(&cfg.Registry.DistTag, b.DistTag)
		set(&cfg.Registry.MaxPublishAttempts, b.MaxPublishAttempts)
		set(&cfg.Registry.Token, b.Token)
	}
	if b := r.GitHub; b != nil {
		set(&cfg.GitHub.Repository, b.Repository)
		set(&cfg.GitHub.Token, b.Token)
		set(&cfg.GitHub.StatusContext, b.StatusContext)
		set(&cfg.GitHub.APIURL, b.APIURL)
		set(&cfg.GitHub.Title, b.Title)
	}
}
