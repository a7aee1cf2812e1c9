package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/neulab/pr-arena/internal/arena"
	"github.com/neulab/pr-arena/internal/reconcile"
	ghprovider "github.com/neulab/pr-arena/pkg/gitprovider/github"
	"github.com/neulab/pr-arena/pkg/model"
)

var commitOnlyFlags struct {
	repo        string
	token       string
	username    string
	issueNumber int
	issueType   string
	modelNumber int
	outputDir   string
	uuid        string
}

var commitOnlyCmd = &cobra.Command{
	Use:   "commit-only",
	Short: "Re-apply a stored attempt and commit it without pushing",
	Long: `Load the resolver record for the issue from output{N}/output.jsonl, apply
its patch to a fresh copy of the checkout and commit it. The commit hash is
printed, and stored on the comparison when --uuid is given.`,
	Example: `  prarena commit-only --repo acme/widgets --issue-number 12 --model-number 2`,
	RunE:    runCommitOnly,
}

func init() {
	f := commitOnlyCmd.Flags()
	f.StringVar(&commitOnlyFlags.repo, "repo", "", "Repository (owner/repo)")
	f.StringVar(&commitOnlyFlags.token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	f.StringVar(&commitOnlyFlags.username, "username", "", "GitHub username (default $GITHUB_USERNAME)")
	f.IntVar(&commitOnlyFlags.issueNumber, "issue-number", 0, "Issue number")
	f.StringVar(&commitOnlyFlags.issueType, "issue-type", "issue", "Issue type: issue or pr")
	f.IntVar(&commitOnlyFlags.modelNumber, "model-number", 1, "Attempt to commit: 1 or 2")
	f.StringVar(&commitOnlyFlags.outputDir, "output-dir", "output", "Directory holding the attempt outputs")
	f.StringVar(&commitOnlyFlags.uuid, "uuid", "", "Comparison to store the commit hash on")
	_ = commitOnlyCmd.MarkFlagRequired("repo")
	_ = commitOnlyCmd.MarkFlagRequired("issue-number")

	rootCmd.AddCommand(commitOnlyCmd)
}

func runCommitOnly(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fl := commitOnlyFlags

	var slot model.Slot
	switch fl.modelNumber {
	case 1:
		slot = model.SlotA
	case 2:
		slot = model.SlotB
	default:
		return fmt.Errorf("--model-number must be 1 or 2, got %d", fl.modelNumber)
	}
	if fl.issueType != "issue" && fl.issueType != "pr" {
		return fmt.Errorf("--issue-type must be issue or pr, got %q", fl.issueType)
	}
	owner, repo, err := splitRepo(fl.repo)
	if err != nil {
		return err
	}
	applyOverrides(fl.token, fl.username)
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := arena.AttemptDir(fl.outputDir, slot)
	out, err := model.LoadOutput(filepath.Join(dir, model.OutputFile), fl.issueNumber)
	if err != nil {
		return err
	}
	issue := out.Issue
	issue.Owner, issue.Repo = owner, repo

	gh, err := ghprovider.New(ctx, cfg.GitHubToken)
	if err != nil {
		return err
	}
	rec, git, err := newReconciler(gh)
	if err != nil {
		return err
	}

	checkout := filepath.Join(dir, "repo")
	if _, err := os.Stat(checkout); err != nil {
		if err := git.Clone(ctx, reconcile.PushURL(owner, repo, cfg.GitHubUsername, cfg.GitHubToken), checkout); err != nil {
			return fmt.Errorf("cloning %s: %w", fl.repo, err)
		}
	}

	res, err := rec.Reconcile(ctx, reconcile.Request{
		OutputDir: dir,
		Issue:     issue,
		IssueType: fl.issueType,
		Attempt:   fl.modelNumber,
		Output:    out,
	})
	if err != nil {
		return err
	}

	if fl.uuid != "" {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := arena.SetCommitHash(ctx, store, fl.uuid, slot, res.CommitHash, time.Now()); err != nil {
			return fmt.Errorf("storing commit hash: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.CommitHash)
	return nil
}
