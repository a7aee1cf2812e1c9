// Package github implements gitprovider.Provider using the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/neulab/pr-arena/pkg/gitprovider"
	"github.com/neulab/pr-arena/pkg/model"
)

// Client wraps the GitHub API for arena operations.
type Client struct {
	gh *gogh.Client
}

// Option configures a Client.
type Option func(*gogh.Client) error

// WithBaseURL points the client at a different API root, such as a GitHub
// Enterprise host or a test server.
func WithBaseURL(raw string) Option {
	return func(c *gogh.Client) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		c.BaseURL = u
		return nil
	}
}

// New creates a GitHub client authenticated with the given token.
func New(ctx context.Context, token string, opts ...Option) (*Client, error) {
	var hc *http.Client
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	gh := gogh.NewClient(hc)
	for _, o := range opts {
		if err := o(gh); err != nil {
			return nil, err
		}
	}
	return &Client{gh: gh}, nil
}

var _ gitprovider.Provider = (*Client)(nil)
var _ gitprovider.TokenValidator = (*Client)(nil)

// GetIssue fetches an issue's title and body.
func (c *Client) GetIssue(ctx context.Context, repoFullName string, number int) (*model.Issue, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	is, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("getting issue #%d: %w", number, err)
	}

	issue := &model.Issue{
		Owner:  owner,
		Repo:   repo,
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
	}
	if is.IsPullRequest() {
		pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if err != nil {
			return nil, fmt.Errorf("getting pull request #%d: %w", number, err)
		}
		issue.HeadBranch = pr.GetHead().GetRef()
	}
	return issue, nil
}

// GetDefaultBranch returns the default branch for a repository.
func (c *Client) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}

	return r.GetDefaultBranch(), nil
}

// BranchExists reports whether branch is present on the remote. Only a 200
// response counts as "exists"; any other HTTP status means the name is free.
// Transport failures are returned as errors.
func (c *Client) BranchExists(ctx context.Context, repoFullName, branch string) (bool, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return false, err
	}

	_, resp, err := c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err == nil {
		return true, nil
	}
	if status := responseStatus(resp, err); status != 0 {
		return status == http.StatusOK, nil
	}
	return false, fmt.Errorf("probing branch %s: %w", branch, err)
}

// responseStatus extracts the HTTP status of a failed API call, or 0 when
// the request never got a response.
func responseStatus(resp *gogh.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var er *gogh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	var rle *gogh.RateLimitError
	if errors.As(err, &rle) && rle.Response != nil {
		return rle.Response.StatusCode
	}
	var arle *gogh.AbuseRateLimitError
	if errors.As(err, &arle) && arle.Response != nil {
		return arle.Response.StatusCode
	}
	return 0
}

// CreatePR opens a pull request and returns the PR URL and number.
func (c *Client) CreatePR(ctx context.Context, opts gitprovider.PROptions) (string, int, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return "", 0, err
	}

	base := opts.Base
	if base == "" {
		base = "main"
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gogh.NewPullRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
		Head:  gogh.Ptr(opts.Head),
		Base:  gogh.Ptr(base),
		Draft: gogh.Ptr(opts.Draft),
	})
	if err != nil {
		return "", 0, fmt.Errorf("creating pull request: %w", err)
	}

	return pr.GetHTMLURL(), pr.GetNumber(), nil
}

// ValidateToken checks that token authenticates against the API.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	gh := gogh.NewClient(nil).WithAuthToken(token)
	gh.BaseURL = c.gh.BaseURL
	if _, _, err := gh.Users.Get(ctx, ""); err != nil {
		if responseStatus(nil, err) == http.StatusUnauthorized {
			return fmt.Errorf("token rejected by GitHub")
		}
		return fmt.Errorf("validating token: %w", err)
	}
	return nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
