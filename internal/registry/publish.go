package registry

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vk/monorelease/internal/ctxlog"
)

// ErrorKind classifies a failed publish.
type ErrorKind string

const (
	KindConflict ErrorKind = "conflict"
	KindAuth     ErrorKind = "auth"
	KindOTP      ErrorKind = "otp"
	KindOther    ErrorKind = "other"
)

// PublishError is a failed npm publish.
type PublishError struct {
	Dir    string
	Kind   ErrorKind
	Stderr string
	Err    error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("npm publish in %s failed (%s): %v", e.Dir, e.Kind, e.Err)
	switch e.Kind {
	case KindAuth:
		msg += "; run `npm login` or set NPM_TOKEN with publish rights"
	case KindOTP:
		msg += "; pass a fresh one-time password with --otp"
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

// PublishRequest describes one publish.
type PublishRequest struct {
	Dir     string
	DistTag string
	OTP     string
}

// Runner executes a command in dir and returns its output.
type Runner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)

// ExecRunner runs commands as subprocesses.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Publisher publishes packages with `npm publish`. Conflicts are retried with
// capped exponential backoff; authentication and OTP failures are not.
type Publisher struct {
	Registry        string
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Run             Runner
}

// NewPublisher returns a Publisher for registryURL using the npm binary.
func NewPublisher(registryURL string, maxAttempts uint) *Publisher {
	return &Publisher{
		Registry:        registryURL,
		MaxAttempts:     maxAttempts,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Run:             ExecRunner,
	}
}

// Publish publishes the package in req.Dir.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) error {
	logger := ctxlog.FromContext(ctx)
	args := []string{"publish"}
	if p.Registry != "" {
		args = append(args, "--registry", p.Registry)
	}
	if req.DistTag != "" {
		args = append(args, "--tag", req.DistTag)
	}
	if req.OTP != "" {
		args = append(args, "--otp", req.OTP)
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		logger.Debug("Running npm publish.", "dir", req.Dir, "attempt", attempt, "tag", req.DistTag)
		_, stderr, err := p.Run(ctx, req.Dir, "npm", args...)
		if err == nil {
			return struct{}{}, nil
		}
		pubErr := &PublishError{Dir: req.Dir, Kind: classify(stderr), Stderr: stderr, Err: err}
		if pubErr.Kind != KindConflict {
			return struct{}{}, backoff.Permanent(pubErr)
		}
		logger.Warn("Publish conflict, retrying.", "dir", req.Dir, "attempt", attempt)
		return struct{}{}, pubErr
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
	return err
}

func classify(stderr string) ErrorKind {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "eotp") || strings.Contains(s, "one-time password"):
		return KindOTP
	case strings.Contains(s, "e401") || strings.Contains(s, "eneedauth") || strings.Contains(s, "unauthorized"):
		return KindAuth
	case strings.Contains(s, "e409") || strings.Contains(s, "epublishconflict") || strings.Contains(s, "cannot publish over"):
		return KindConflict
	}
	return KindOther
}
