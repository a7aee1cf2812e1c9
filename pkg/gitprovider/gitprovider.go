// Package gitprovider defines the git hosting provider interface used by the
// arena.
package gitprovider

import (
	"context"

	"github.com/neulab/pr-arena/pkg/model"
)

// PROptions configures a new pull request.
type PROptions struct {
	Repo  string // "owner/repo"
	Head  string // source branch, "fork_owner:branch" when pushing from a fork
	Base  string // target branch (default: "main")
	Title string
	Body  string
	Draft bool
}

// WebhookEvent is a parsed webhook that asks for an arena run.
type WebhookEvent struct {
	Action      string
	Repo        string
	IssueNumber int
	Label       string
	Sender      string
}

// Provider is the interface for git hosting operations.
type Provider interface {
	GetIssue(ctx context.Context, repo string, number int) (*model.Issue, error)
	GetDefaultBranch(ctx context.Context, repo string) (string, error)
	CreatePR(ctx context.Context, opts PROptions) (url string, number int, err error)
	BranchChecker
}

// BranchChecker checks whether a branch already exists on the remote.
type BranchChecker interface {
	BranchExists(ctx context.Context, repo, branch string) (bool, error)
}

// TokenValidator decides whether a token may be used against a host.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) error
}

// TrustAll accepts every token without contacting the host.
type TrustAll struct{}

// ValidateToken implements TokenValidator.
func (TrustAll) ValidateToken(context.Context, string) error { return nil }
