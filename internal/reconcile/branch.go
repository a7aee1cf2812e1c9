package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/internal/gitcmd"
	"github.com/neulab/pr-arena/pkg/gitprovider"
)

// MaxBranchAttempts bounds the try-suffix search in AllocateBranch.
const MaxBranchAttempts = 100

// PRType selects what is published after a push.
type PRType string

const (
	PRBranch PRType = "branch" // push only
	PRDraft  PRType = "draft"
	PRReady  PRType = "ready"
)

// ParsePRType validates a PR type.
func ParsePRType(s string) (PRType, error) {
	switch t := PRType(s); t {
	case PRBranch, PRDraft, PRReady:
		return t, nil
	}
	return "", fmt.Errorf("invalid pr type %q, expected branch, draft or ready", s)
}

// BaseBranchName returns the branch name prefix for an issue.
func BaseBranchName(issueNumber int) string {
	return fmt.Sprintf("openhands-fix-issue-%d", issueNumber)
}

// AllocateBranch returns the first "<base>-try<N>" (N starting at 1) that
// the remote does not report as existing.
func AllocateBranch(ctx context.Context, checker gitprovider.BranchChecker, repo string, issueNumber int) (string, error) {
	base := BaseBranchName(issueNumber)
	for n := 1; n <= MaxBranchAttempts; n++ {
		name := fmt.Sprintf("%s-try%d", base, n)
		exists, err := checker.BranchExists(ctx, repo, name)
		if err != nil {
			return "", err
		}
		if !exists {
			clog.FromContext(ctx).Infof("allocated branch %s", name)
			return name, nil
		}
	}
	return "", &BranchCollisionExhaustedError{Base: base, Attempts: MaxBranchAttempts}
}

// PushURL builds an HTTPS remote URL carrying the credentials. Without a
// username GitHub's x-auth-token form is used.
func PushURL(owner, repo, username, token string) string {
	cred := "x-auth-token:" + token
	if username != "" {
		cred = username + ":" + token
	}
	return fmt.Sprintf("https://%s@github.com/%s/%s.git", cred, owner, repo)
}

// PushBranch pushes branch from dir to remoteURL. A rejected push yields
// *PushError carrying git's stderr.
func PushBranch(ctx context.Context, git Git, dir, remoteURL, branch string) error {
	if err := git.Push(ctx, dir, remoteURL, branch); err != nil {
		pe := &PushError{Branch: branch, Err: err}
		var ce *gitcmd.CommandError
		if errors.As(err, &ce) {
			pe.Stderr = ce.Stderr
		}
		return pe
	}
	return nil
}
