package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/vk/monorelease/internal/attribution"
	"github.com/vk/monorelease/internal/config"
	"github.com/vk/monorelease/internal/ctxlog"
	"github.com/vk/monorelease/internal/hosting"
	"github.com/vk/monorelease/internal/plan"
	"github.com/vk/monorelease/internal/prompt"
	"github.com/vk/monorelease/internal/registry"
	"github.com/vk/monorelease/internal/vcs"
)

// Repository is the version control the workflows need.
type Repository interface {
	attribution.History
	IsClean(ctx context.Context) (bool, error)
	Head(ctx context.Context) (string, error)
	Fetch(ctx context.Context, remote string) error
	RefExists(ctx context.Context, ref string) (bool, error)
	Show(ctx context.Context, ref, path string) ([]byte, error)
	CheckoutBranch(ctx context.Context, branch, start string) error
	CommitAll(ctx context.Context, message string) error
	Push(ctx context.Context, remote, branch string, force bool) error
	CreateTag(ctx context.Context, name, message string) error
	PushTags(ctx context.Context, remote string, tags ...string) error
}

// Registry answers which versions of a package are already published.
type Registry interface {
	Metadata(ctx context.Context, name string) (*registry.Metadata, error)
}

// Publisher uploads one package directory.
type Publisher interface {
	Publish(ctx context.Context, req registry.PublishRequest) error
}

// CodeHost manages the release pull request and its commit status.
type CodeHost interface {
	CreateOrUpdatePullRequest(ctx context.Context, in hosting.PullRequestInput) (*hosting.PullRequest, error)
	SetStatus(ctx context.Context, sha string, s hosting.Status) error
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	root   string
	opts   Options
	cfg    *config.Config

	repo      Repository
	registry  Registry
	publisher Publisher
	host      CodeHost
	chooser   plan.Chooser
	now       func() time.Time

	closers []io.Closer
}

// Option replaces a collaborator, mostly for tests.
type Option func(*App)

// WithRepository sets the version control backend.
func WithRepository(r Repository) Option { return func(a *App) { a.repo = r } }

// WithRegistry sets the registry metadata source.
func WithRegistry(r Registry) Option { return func(a *App) { a.registry = r } }

// WithPublisher sets the package publisher.
func WithPublisher(p Publisher) Option { return func(a *App) { a.publisher = p } }

// WithCodeHost sets the code host used by the pr workflow.
func WithCodeHost(h CodeHost) Option { return func(a *App) { a.host = h } }

// WithChooser sets the chooser consulted by the version workflow when
// running interactively.
func WithChooser(c plan.Chooser) Option { return func(a *App) { a.chooser = c } }

// WithClock sets the clock used for changelog dates.
func WithClock(now func() time.Time) Option { return func(a *App) { a.now = now } }

// New is the constructor for the main application. Results are written to
// outW and logs to logW.
func New(outW, logW io.Writer, opts Options, with ...Option) (*App, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(opts.LogLevel, opts.LogFormat, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	root, err := opts.root()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	a := &App{
		outW:   outW,
		logger: logger,
		root:   root,
		opts:   opts,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, w := range with {
		w(a)
	}

	if a.repo == nil {
		a.repo = vcs.New(root)
	}
	if a.registry == nil {
		c := registry.NewClient(cfg.Registry.URL, cfg.Registry.Token)
		a.registry = c
		a.closers = append(a.closers, c)
	}
	if a.publisher == nil {
		a.publisher = registry.NewPublisher(cfg.Registry.URL, uint(cfg.Registry.MaxPublishAttempts))
	}
	if a.chooser == nil && opts.Interactive {
		a.chooser = prompt.NewTerminal(os.Stdin, logW)
	}
	logger.Debug("Application initialized.", "root", root, "attribution", cfg.Attribution, "workers", cfg.Workers)
	return a, nil
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Close releases network clients.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// codeHost returns the configured code host, creating the GitHub client on
// first use.
func (a *App) codeHost() (CodeHost, error) {
	if a.host != nil {
		return a.host, nil
	}
	gh := a.cfg.GitHub
	if gh.Repository == "" {
		return nil, fmt.Errorf("github.repository must be set in %s to open pull requests", config.FileName)
	}
	if gh.Token == "" {
		return nil, errors.New("no GitHub token: set github.token or GITHUB_TOKEN")
	}
	client, err := hosting.NewGitHub(gh.APIURL, gh.Repository, gh.Token)
	if err != nil {
		return nil, err
	}
	a.host = client
	a.closers = append(a.closers, client)
	return client, nil
}
