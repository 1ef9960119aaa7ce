package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vk/monorelease/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// command carries the flag values shared by every subcommand.
type command struct {
	outW, errW io.Writer
	opts       app.Options
	with       []app.Option
	started    bool
}

// Execute runs the command line in args. Usage mistakes are reported as an
// *ExitError with code 2; workflow failures are returned unchanged.
func Execute(ctx context.Context, args []string, outW, errW io.Writer, with ...app.Option) error {
	c := &command{outW: outW, errW: errW, with: with}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(outW)
	root.SetErr(errW)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if !c.started && !errors.As(err, &exitErr) {
		return usageError(err)
	}
	return err
}

func (c *command) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "monorelease",
		Short: "Version, changelog and publish the packages of a workspace",
		Long: `monorelease decides which workspace packages need a new version from
their conventional commits, cascades patch releases to dependents, rewrites
dependency ranges and changelogs, and publishes in dependency order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	pf := root.PersistentFlags()
	pf.StringVarP(&c.opts.Dir, "cwd", "C", ".", "Repository root.")
	pf.StringVar(&c.opts.ConfigPath, "config", "", "Configuration file (default <cwd>/release.hcl).")
	pf.StringVar(&c.opts.LogLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	pf.StringVar(&c.opts.LogFormat, "log-format", "text", "Log output format: text or json.")
	pf.BoolVar(&c.opts.DryRun, "dry-run", false, "Compute and print, change nothing.")
	pf.StringVar(&c.opts.Attribution, "attribution", "", "Global commit attribution: all, dependencies or none.")
	pf.IntVar(&c.opts.Workers, "workers", 0, "Concurrent git and publish workers.")

	root.AddCommand(c.planCommand(), c.versionCommand(), c.publishCommand(), c.prCommand())
	return root
}

// run validates the options, builds the application and hands it to fn.
func (c *command) run(fn func(ctx context.Context, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := c.opts.Validate(); err != nil {
			return usageError(err)
		}
		c.started = true
		a, err := app.New(c.outW, c.errW, c.opts, c.with...)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return fn(cmd.Context(), a)
	}
}

func (c *command) planCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the release plan without changing anything",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app.App) error {
			_, err := a.Plan(ctx)
			return err
		}),
	}
	cmd.Flags().BoolVar(&c.opts.JSON, "json", false, "Print the plan as JSON.")
	return cmd
}

func (c *command) versionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Write new versions, dependency ranges and changelogs",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app.App) error {
			_, err := a.Version(ctx)
			return err
		}),
	}
	cmd.Flags().BoolVar(&c.opts.JSON, "json", false, "Print the plan as JSON.")
	cmd.Flags().BoolVarP(&c.opts.Interactive, "interactive", "i", false, "Confirm or change each suggested version.")
	return cmd
}

func (c *command) publishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish unpublished versions in dependency order and tag them",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app.App) error {
			_, err := a.Publish(ctx)
			return err
		}),
	}
	cmd.Flags().StringVar(&c.opts.OTP, "otp", "", "One-time password for the registry.")
	cmd.Flags().StringVar(&c.opts.DistTag, "tag", "", "Distribution tag (default from configuration).")
	return cmd
}

func (c *command) prCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Open or update the release pull request",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app.App) error {
			pr, err := a.PullRequest(ctx)
			if err != nil {
				return err
			}
			if pr == nil && !c.opts.DryRun {
				fmt.Fprintln(c.outW, "nothing to release")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&c.opts.Interactive, "interactive", "i", false, "Confirm or change each suggested version.")
	return cmd
}
