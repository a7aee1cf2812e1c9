// Package arena runs two models against the same issue and stores the pair
// for a human to judge.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/neulab/pr-arena/internal/agent"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/envfile"
	"github.com/neulab/pr-arena/internal/metrics"
	"github.com/neulab/pr-arena/internal/notify"
	"github.com/neulab/pr-arena/internal/reconcile"
	"github.com/neulab/pr-arena/pkg/model"
)

// Reconciler commits and publishes one attempt's patch.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Result, error)
}

// Cloner fetches the pristine checkout each attempt starts from.
type Cloner interface {
	Clone(ctx context.Context, url, dir string) error
}

// DocumentStore is the part of docstore.Store the coordinator writes to.
type DocumentStore interface {
	Set(ctx context.Context, collection, id string, data any) error
	Mutate(ctx context.Context, collection, id string, fn func(cur map[string]any, exists bool) (map[string]any, error)) error
}

// ModelTable maps model names to their public identifiers.
type ModelTable interface {
	Entry(name string) model.ModelEntry
}

// Deps are the collaborators of a Coordinator. Env and Notifier are
// optional.
type Deps struct {
	Agent      agent.Runner
	Reconciler Reconciler
	Cloner     Cloner
	Store      DocumentStore
	Models     ModelTable
	Env        *envfile.File
	Notifier   notify.Notifier
}

// Options configures a run.
type Options struct {
	// Models is the pool two models are sampled from.
	Models    []string
	OutputDir string
	IssueType string

	MaxIterations       int
	PromptFile          string
	RepoInstructionFile string
	APIKey              string
	BaseURL             string

	Token     string
	Username  string
	Push      bool
	ForkOwner string

	// Rand drives model sampling. Defaults to a randomly seeded source.
	Rand *rand.Rand
}

// Coordinator drives a run: attempt A, attempt B, aggregate, persist.
type Coordinator struct {
	deps Deps
	opts Options

	now   func() time.Time
	newID func() string
}

// New creates a Coordinator.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Agent == nil || deps.Reconciler == nil || deps.Store == nil || deps.Models == nil {
		return nil, errors.New("arena: agent, reconciler, store and model table are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if opts.IssueType == "" {
		opts.IssueType = "issue"
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Coordinator{
		deps:  deps,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}, nil
}

// Run resolves issue with two sampled models and stores the comparison. A
// failed attempt never stops the other one; the run is then stored as
// failed. The returned error covers persistence and signalling only.
func (c *Coordinator) Run(ctx context.Context, issue model.Issue) (*model.ArenaRun, error) {
	if c.opts.IssueType != "issue" {
		return nil, fmt.Errorf("arena runs only support issues, got %q", c.opts.IssueType)
	}
	modelA, modelB, err := SampleModels(c.opts.Rand, c.opts.Models)
	if err != nil {
		return nil, err
	}

	log := clog.FromContext(ctx).With("repo", issue.FullName(), "issue", issue.Number)
	ctx = clog.WithLogger(ctx, log)
	log.Infof("comparing %s (A) with %s (B)", modelA, modelB)

	run := &model.ArenaRun{Issue: issue}
	run.A = c.attempt(ctx, issue, model.SlotA, modelA)
	run.B = c.attempt(ctx, issue, model.SlotB, modelB)

	run.Status = model.StatusPending
	if run.A.Failed() || run.B.Failed() {
		run.Status = model.StatusFailed
	}
	run.ID = c.newID()
	run.CreatedAt = c.now()
	run.UpdatedAt = run.CreatedAt

	if err := c.persist(ctx, run); err != nil {
		return run, err
	}
	metrics.ObserveRun(string(run.Status))

	if err := c.signal(run); err != nil {
		return run, err
	}

	if run.Status == model.StatusPending {
		if err := c.deps.Notifier.ComparisonReady(ctx, run); err != nil {
			log.Warnf("notifying comparison %s: %v", run.ID, err)
		}
	}
	log.Infof("stored comparison %s with status %s", run.ID, run.Status)
	return run, nil
}

// RunIn is Run with outputDir in place of the configured output directory.
func (c *Coordinator) RunIn(ctx context.Context, issue model.Issue, outputDir string) (*model.ArenaRun, error) {
	cc := *c
	cc.opts.OutputDir = outputDir
	return cc.Run(ctx, issue)
}

// AttemptDir returns the output directory of a slot.
func AttemptDir(outputDir string, slot model.Slot) string {
	return filepath.Join(outputDir, fmt.Sprintf("output%d", slot.Attempt()))
}

func (c *Coordinator) attempt(ctx context.Context, issue model.Issue, slot model.Slot, llmModel string) model.AttemptResult {
	log := clog.FromContext(ctx).With("slot", string(slot))
	ctx = clog.WithLogger(ctx, log)

	res := model.AttemptResult{Model: c.deps.Models.Entry(agent.DisplayName(llmModel))}
	dir := AttemptDir(c.opts.OutputDir, slot)

	if err := c.ensureClone(ctx, issue, dir); err != nil {
		log.Errorf("preparing checkout: %v", err)
		res.Error = err.Error()
		metrics.ObserveAttempt(metrics.OutcomeFailed)
		return res
	}

	out, err := c.deps.Agent.Resolve(ctx, agent.Request{
		Issue:               issue,
		IssueType:           c.opts.IssueType,
		Model:               llmModel,
		APIKey:              c.opts.APIKey,
		BaseURL:             c.opts.BaseURL,
		MaxIterations:       c.opts.MaxIterations,
		PromptFile:          c.opts.PromptFile,
		RepoInstructionFile: c.opts.RepoInstructionFile,
		OutputDir:           dir,
		Token:               c.opts.Token,
		Username:            c.opts.Username,
	})
	if err != nil {
		log.Errorf("resolver failed: %v", err)
		msg := err.Error()
		out = &model.ResolverOutput{Issue: issue, IssueType: c.opts.IssueType, Error: &msg}
		res.Error = msg
	}
	out.Model = res.Model.Name

	res.GitPatch = out.GitPatch
	res.Success = out.Success
	res.Explanation = out.ResultExplanation
	res.Duration = time.Duration(out.Duration * float64(time.Second))
	if !out.HasPatch() {
		res.GitPatch = nil
	}

	if out.HasPatch() {
		rr, err := c.deps.Reconciler.Reconcile(ctx, reconcile.Request{
			OutputDir: dir,
			Issue:     issue,
			IssueType: c.opts.IssueType,
			Attempt:   slot.Attempt(),
			Output:    out,
			Push:      c.opts.Push,
			ForkOwner: c.opts.ForkOwner,
		})
		if rr != nil {
			out.RepoDir = rr.WorkDir
			out.CommitHash = rr.CommitHash
			out.BranchName = rr.BranchName
			out.DefaultBranch = rr.DefaultBranch
			res.CommitHash = rr.CommitHash
			res.BranchName = rr.BranchName
			metrics.ObservePatch(rr.Report)
		}
		if err != nil {
			log.Errorf("reconciling attempt: %v", err)
			res.Error = err.Error()
		}
	}

	if err := model.AppendOutput(filepath.Join(dir, model.OutputFile), out); err != nil {
		log.Warnf("recording attempt output: %v", err)
	}

	switch {
	case res.Error != "":
		metrics.ObserveAttempt(metrics.OutcomeFailed)
	case res.GitPatch == nil:
		metrics.ObserveAttempt(metrics.OutcomeNoPatch)
	default:
		metrics.ObserveAttempt(metrics.OutcomeSucceeded)
	}
	return res
}

// ensureClone clones the repository into dir/repo unless it is already there.
func (c *Coordinator) ensureClone(ctx context.Context, issue model.Issue, dir string) error {
	repoDir := filepath.Join(dir, "repo")
	if _, err := os.Stat(repoDir); err == nil {
		return nil
	}
	if c.deps.Cloner == nil {
		return fmt.Errorf("no checkout at %s", repoDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	url := reconcile.PushURL(issue.Owner, issue.Repo, c.opts.Username, c.opts.Token)
	if err := c.deps.Cloner.Clone(ctx, url, repoDir); err != nil {
		return fmt.Errorf("cloning %s: %w", issue.FullName(), err)
	}
	return nil
}

func (c *Coordinator) persist(ctx context.Context, run *model.ArenaRun) error {
	if err := c.deps.Store.Set(ctx, docstore.IssueCollection, run.ID, EncodeRun(run)); err != nil {
		return fmt.Errorf("storing comparison: %w", err)
	}
	if run.Status != model.StatusPending {
		return nil
	}

	sel := model.Selection{
		IssueID:      run.ID,
		IsLatest:     true,
		Language:     "en",
		IsAnonymous:  true,
		Deduplicated: true,
		ModelA:       run.A.Model,
		ModelB:       run.B.Model,
	}
	now := run.CreatedAt
	err := c.deps.Store.Mutate(ctx, docstore.UserDataCollection, run.Issue.Owner, func(cur map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			cur = map[string]any{"githubId": run.Issue.Owner, "createdAt": now}
		}
		sels, _ := cur["selections"].(map[string]any)
		if sels == nil {
			sels = map[string]any{}
		}
		sels[run.ID] = sel
		cur["selections"] = sels
		cur["lastActive"] = now
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("storing user selection: %w", err)
	}
	return nil
}

// signal tells the workflow how the run ended.
func (c *Coordinator) signal(run *model.ArenaRun) error {
	if c.deps.Env == nil {
		return nil
	}
	if run.Status == model.StatusFailed {
		return c.deps.Env.Append("FAILED", "TRUE")
	}
	if err := c.deps.Env.Append("UUID", run.ID); err != nil {
		return err
	}
	return c.deps.Env.Append("FAILED", "FALSE")
}
