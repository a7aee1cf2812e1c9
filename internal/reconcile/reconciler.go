// Package reconcile turns an agent's patch into a commit on a uniquely named
// branch of the target repository.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/pkg/gitprovider"
	"github.com/neulab/pr-arena/pkg/model"
	"github.com/neulab/pr-arena/pkg/patch"
)

// Git is the subset of git the reconciler drives. internal/gitcmd provides
// the implementation backed by the git binary.
type Git interface {
	Clone(ctx context.Context, url, dir string) error
	Checkout(ctx context.Context, dir, ref string) error
	CreateBranch(ctx context.Context, dir, branch string) error
	AddAll(ctx context.Context, dir string) error
	HasChanges(ctx context.Context, dir string) (bool, error)
	Commit(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, remote, branch string) error
	RevParse(ctx context.Context, dir, ref string) (string, error)
	ConfigGet(ctx context.Context, dir, key string) (string, error)
	ConfigSet(ctx context.Context, dir, key, value string) error
}

// ErrNoPatch is returned when an attempt carries no patch to reconcile.
var ErrNoPatch = errors.New("no git patch found")

// Options configures a Reconciler.
type Options struct {
	Username string
	Token    string
	PRType   PRType
	// Validator checks Token before anything is pushed. Defaults to
	// gitprovider.TrustAll.
	Validator gitprovider.TokenValidator
}

// Reconciler applies patches in isolated working copies and publishes the
// result.
type Reconciler struct {
	git      Git
	provider gitprovider.Provider
	opts     Options
}

// New creates a Reconciler.
func New(git Git, provider gitprovider.Provider, opts Options) *Reconciler {
	if opts.PRType == "" {
		opts.PRType = PRBranch
	}
	if opts.Validator == nil {
		opts.Validator = gitprovider.TrustAll{}
	}
	return &Reconciler{git: git, provider: provider, opts: opts}
}

// Request describes one attempt to reconcile.
type Request struct {
	// OutputDir holds the pristine checkout in OutputDir/repo.
	OutputDir string
	Issue     model.Issue
	IssueType string
	Attempt   int
	Output    *model.ResolverOutput
	// Push publishes the commit; commit-only runs leave it false.
	Push bool
	// ForkOwner, when set, receives the push instead of the issue's owner.
	ForkOwner string
}

// Result is what reconciliation produced. Fields are empty for steps that
// did not run.
type Result struct {
	WorkDir       string
	CommitHash    string
	BranchName    string
	DefaultBranch string
	PRURL         string
	Report        *patch.Report
}

// Reconcile initializes a working copy, applies the attempt's patch, commits
// it and, when requested, pushes a fresh branch and opens a pull request.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	log := clog.FromContext(ctx).With("issue", req.Issue.Number, "attempt", req.Attempt)
	ctx = clog.WithLogger(ctx, log)

	if !req.Output.HasPatch() {
		return nil, ErrNoPatch
	}

	baseRef := req.Output.BaseCommit
	if baseRef == "" && req.IssueType == "pr" {
		baseRef = req.Issue.HeadBranch
	}

	dir, err := InitializeRepo(ctx, r.git, req.OutputDir, req.Issue.Number, req.IssueType, baseRef)
	if err != nil {
		return nil, err
	}
	res := &Result{WorkDir: dir}

	report, err := patch.ApplyPatch(ctx, dir, *req.Output.GitPatch)
	if err != nil {
		return res, fmt.Errorf("applying patch: %w", err)
	}
	res.Report = report
	if !report.Clean() {
		log.Warnf("patch applied with warnings: %s", report)
	}

	hash, err := MakeCommit(ctx, r.git, dir, CommitInfo{
		IssueType:   req.IssueType,
		IssueNumber: req.Issue.Number,
		Attempt:     req.Attempt,
		Explanation: req.Output.ResultExplanation,
		Duration:    time.Duration(req.Output.Duration * float64(time.Second)),
	})
	if err != nil {
		return res, err
	}
	res.CommitHash = hash

	if !req.Push {
		return res, nil
	}
	if err := r.publish(ctx, req, res); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Reconciler) publish(ctx context.Context, req Request, res *Result) error {
	log := clog.FromContext(ctx)

	if err := r.opts.Validator.ValidateToken(ctx, r.opts.Token); err != nil {
		return fmt.Errorf("validating token: %w", err)
	}

	pushOwner := req.Issue.Owner
	if req.ForkOwner != "" {
		pushOwner = req.ForkOwner
	}
	pushRepo := pushOwner + "/" + req.Issue.Repo

	branch, err := AllocateBranch(ctx, r.provider, pushRepo, req.Issue.Number)
	if err != nil {
		return err
	}
	res.BranchName = branch

	defaultBranch, err := r.provider.GetDefaultBranch(ctx, req.Issue.FullName())
	if err != nil {
		return err
	}
	res.DefaultBranch = defaultBranch

	if err := r.git.CreateBranch(ctx, res.WorkDir, branch); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}
	url := PushURL(pushOwner, req.Issue.Repo, r.opts.Username, r.opts.Token)
	if err := PushBranch(ctx, r.git, res.WorkDir, url, branch); err != nil {
		return err
	}
	log.Infof("pushed %s to %s", branch, pushRepo)

	if r.opts.PRType == PRBranch {
		return nil
	}

	head := branch
	if req.ForkOwner != "" && req.ForkOwner != req.Issue.Owner {
		head = req.ForkOwner + ":" + branch
	}
	prURL, _, err := r.provider.CreatePR(ctx, gitprovider.PROptions{
		Repo:  req.Issue.FullName(),
		Head:  head,
		Base:  defaultBranch,
		Title: fmt.Sprintf("Fix issue #%d: %s", req.Issue.Number, req.Issue.Title),
		Body:  fmt.Sprintf("This pull request fixes #%d.", req.Issue.Number),
		Draft: r.opts.PRType == PRDraft,
	})
	if err != nil {
		return err
	}
	res.PRURL = prURL
	log.Infof("opened pull request %s", prURL)
	return nil
}
