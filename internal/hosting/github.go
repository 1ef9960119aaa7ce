// Package hosting is the code hosting collaborator: release pull requests and
// commit statuses on GitHub.
package hosting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/vk/monorelease/internal/ctxlog"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// APIError is a failed GitHub call.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github %s: status %d: %s", e.Op, e.Status, e.Message)
}

// PullRequest is the subset of a pull request the release workflow uses.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// PullRequestInput describes the desired release pull request.
type PullRequestInput struct {
	Head  string `json:"head"`
	Base  string `json:"base"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Status is a commit status. State is one of error, failure, pending or
// success.
type Status struct {
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	TargetURL   string `json:"target_url,omitempty"`
	Context     string `json:"context,omitempty"`
}

// GitHub is a client for one repository.
type GitHub struct {
	http  *resty.Client
	owner string
	repo  string
}

// NewGitHub returns a client for repository ("owner/name").
func NewGitHub(baseURL, repository, token string) (*GitHub, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("repository must look like owner/name, got %q", repository)
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &GitHub{http: c, owner: owner, repo: repo}, nil
}

// Close releases the underlying HTTP resources.
func (g *GitHub) Close() error { return g.http.Close() }

func (g *GitHub) request(ctx context.Context) *resty.Request {
	return g.http.R().
		SetContext(ctx).
		SetPathParam("owner", g.owner).
		SetPathParam("repo", g.repo)
}

func check(op string, res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("github %s: %w", op, err)
	}
	if res.IsError() {
		return &APIError{Op: op, Status: res.StatusCode(), Message: res.String()}
	}
	return nil
}

// FindOpenPullRequest returns the open pull request from head, or nil.
func (g *GitHub) FindOpenPullRequest(ctx context.Context, head string) (*PullRequest, error) {
	var prs []PullRequest
	res, err := g.request(ctx).
		SetQueryParam("state", "open").
		SetQueryParam("head", g.owner+":"+head).
		SetResult(&prs).
		Get("/repos/{owner}/{repo}/pulls")
	if err := check("list pull requests", res, err); err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// CreateOrUpdatePullRequest opens the release pull request, or rewrites the
// title and body of the one already open from in.Head.
func (g *GitHub) CreateOrUpdatePullRequest(ctx context.Context, in PullRequestInput) (*PullRequest, error) {
	logger := ctxlog.FromContext(ctx)
	existing, err := g.FindOpenPullRequest(ctx, in.Head)
	if err != nil {
		return nil, err
	}

	var pr PullRequest
	if existing != nil {
		logger.Debug("Updating release pull request.", "number", existing.Number)
		res, err := g.request(ctx).
			SetPathParam("number", strconv.Itoa(existing.Number)).
			SetBody(map[string]string{"title": in.Title, "body": in.Body}).
			SetResult(&pr).
			Patch("/repos/{owner}/{repo}/pulls/{number}")
		if err := check("update pull request", res, err); err != nil {
			return nil, err
		}
		return &pr, nil
	}

	logger.Debug("Creating release pull request.", "head", in.Head, "base", in.Base)
	res, err := g.request(ctx).
		SetBody(in).
		SetResult(&pr).
		Post("/repos/{owner}/{repo}/pulls")
	if err := check("create pull request", res, err); err != nil {
		return nil, err
	}
	return &pr, nil
}

// SetStatus attaches a commit status to sha.
func (g *GitHub) SetStatus(ctx context.Context, sha string, s Status) error {
	res, err := g.request(ctx).
		SetPathParam("sha", sha).
		SetBody(s).
		Post("/repos/{owner}/{repo}/statuses/{sha}")
	return check("set commit status", res, err)
}
