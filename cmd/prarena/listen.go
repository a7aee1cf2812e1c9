package main

import (
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/neulab/pr-arena/internal/decision"
	"github.com/neulab/pr-arena/internal/envfile"
)

var listenFlags struct {
	repo        string
	token       string
	uuid        string
	issueNumber int
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Wait for the winner of a comparison",
	Long: `Block until a human picks a winner for the comparison, then write
SELECTED=<1|2> to $GITHUB_ENV and mark the choice on the repository owner's
user record. A tie selects attempt 1.`,
	Example: `  prarena listen --repo acme/widgets --uuid 6f1c... --issue-number 12`,
	RunE:    runListen,
}

var decideFlags struct {
	uuid   string
	winner string
}

var decideCmd = &cobra.Command{
	Use:     "decide",
	Short:   "Record the winner of a comparison",
	Example: `  prarena decide --uuid 6f1c... --winner modelA`,
	RunE:    runDecide,
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenFlags.repo, "repo", "", "Repository (owner/repo)")
	f.StringVar(&listenFlags.token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	f.StringVar(&listenFlags.uuid, "uuid", "", "Comparison ID printed by resolve")
	f.IntVar(&listenFlags.issueNumber, "issue-number", 0, "Issue number, for logging")
	_ = listenCmd.MarkFlagRequired("repo")
	_ = listenCmd.MarkFlagRequired("uuid")

	decideCmd.Flags().StringVar(&decideFlags.uuid, "uuid", "", "Comparison ID")
	decideCmd.Flags().StringVar(&decideFlags.winner, "winner", "", "modelA, modelB or tie")
	_ = decideCmd.MarkFlagRequired("uuid")
	_ = decideCmd.MarkFlagRequired("winner")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(decideCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fl := listenFlags

	owner, _, err := splitRepo(fl.repo)
	if err != nil {
		return err
	}
	applyOverrides(fl.token, "")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	env, err := envfile.FromEnv()
	if err != nil {
		clog.FromContext(ctx).Infof("not writing workflow outputs: %v", err)
	}

	log := clog.FromContext(ctx).With("repo", fl.repo, "issue", fl.issueNumber, "comparison", fl.uuid)
	ctx = clog.WithLogger(ctx, log)
	log.Infof("waiting for a decision")

	selected, err := decision.NewListener(store, env, notifiers(ctx)).Listen(ctx, owner, fl.uuid)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Selected attempt %d\n", selected)
	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := decision.Record(ctx, store, decideFlags.uuid, decideFlags.winner)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s (%s vs %s)\n", *run.Winner, run.ID, run.A.Model.Name, run.B.Model.Name)
	return nil
}
