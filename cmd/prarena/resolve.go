package main

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/neulab/pr-arena/internal/agent"
	"github.com/neulab/pr-arena/internal/arena"
	"github.com/neulab/pr-arena/internal/config"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/envfile"
	"github.com/neulab/pr-arena/internal/gitcmd"
	"github.com/neulab/pr-arena/internal/reconcile"
	"github.com/neulab/pr-arena/internal/secrets"
	ghprovider "github.com/neulab/pr-arena/pkg/gitprovider/github"
)

var resolveFlags struct {
	repo                string
	token               string
	username            string
	issueNumber         int
	issueType           string
	outputDir           string
	llmModels           string
	maxIterations       int
	promptFile          string
	repoInstructionFile string
	baseURL             string
	runtimeImage        string
	prType              string
	forkOwner           string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve an issue with two models",
	Long: `Sample two models from the pool, run the resolver for each one in turn,
commit and push each patch to its own branch, and store the comparison.

The outcome is written to $GITHUB_ENV when it is set: UUID=<id> and
FAILED=FALSE for a comparison waiting on a decision, FAILED=TRUE otherwise.`,
	Example: `  prarena resolve --repo acme/widgets --issue-number 12`,
	RunE:    runResolve,
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolveFlags.repo, "repo", "", "Repository (owner/repo)")
	f.StringVar(&resolveFlags.token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	f.StringVar(&resolveFlags.username, "username", "", "GitHub username (default $GITHUB_USERNAME)")
	f.IntVar(&resolveFlags.issueNumber, "issue-number", 0, "Issue number to resolve")
	f.StringVar(&resolveFlags.issueType, "issue-type", "issue", "Issue type (only issue is supported)")
	f.StringVar(&resolveFlags.outputDir, "output-dir", "output", "Directory for attempt outputs")
	f.StringVar(&resolveFlags.llmModels, "llm-models", "", "Comma-separated model pool (default $LLM_MODELS or remote config)")
	f.IntVar(&resolveFlags.maxIterations, "max-iterations", 0, "Agent iteration limit (default $PRARENA_MAX_ITERATIONS)")
	f.StringVar(&resolveFlags.promptFile, "prompt-file", "", "Custom prompt template")
	f.StringVar(&resolveFlags.repoInstructionFile, "repo-instruction-file", "", "Repository instructions for the agent")
	f.StringVar(&resolveFlags.baseURL, "base-url", "", "LLM base URL (default $LLM_BASE_URL or remote config)")
	f.StringVar(&resolveFlags.runtimeImage, "runtime-container-image", "", "Run the resolver inside this container image")
	f.StringVar(&resolveFlags.prType, "pr-type", "", "What to publish: branch, draft or ready (default $PRARENA_PR_TYPE)")
	f.StringVar(&resolveFlags.forkOwner, "fork-owner", "", "Push to this owner's fork instead of the upstream repository")
	_ = resolveCmd.MarkFlagRequired("repo")
	_ = resolveCmd.MarkFlagRequired("issue-number")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fl := resolveFlags

	applyOverrides(fl.token, fl.username)
	if fl.maxIterations > 0 {
		cfg.MaxIterations = fl.maxIterations
	}
	if fl.llmModels != "" {
		cfg.LLMModels = fl.llmModels
	}
	if fl.baseURL != "" {
		cfg.LLMBaseURL = fl.baseURL
	}
	if fl.runtimeImage != "" {
		cfg.RuntimeImage = fl.runtimeImage
	}
	if fl.prType != "" {
		cfg.PRType = fl.prType
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := fetchRemoteConfig(ctx); err != nil {
		return err
	}

	gh, err := ghprovider.New(ctx, cfg.GitHubToken)
	if err != nil {
		return err
	}
	issue, err := gh.GetIssue(ctx, fl.repo, fl.issueNumber)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	env, err := envfile.FromEnv()
	if err != nil {
		clog.FromContext(ctx).Infof("not writing workflow outputs: %v", err)
	}

	coord, err := newCoordinator(ctx, gh, store, env, arena.Options{
		OutputDir:           fl.outputDir,
		IssueType:           fl.issueType,
		PromptFile:          fl.promptFile,
		RepoInstructionFile: fl.repoInstructionFile,
		ForkOwner:           fl.forkOwner,
		Push:                true,
	})
	if err != nil {
		return err
	}

	run, err := coord.Run(ctx, *issue)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Comparison %s: %s\n", run.ID, run.Status)
	return nil
}

// applyOverrides lets command-line credentials take precedence over the
// environment.
func applyOverrides(token, username string) {
	if token != "" {
		cfg.GitHubToken = token
	}
	if username != "" {
		cfg.GitHubUsername = username
	}
}

// fetchRemoteConfig fills in the LLM key, base URL and model pool from the
// secrets endpoint when they are not configured locally.
func fetchRemoteConfig(ctx context.Context) error {
	var names []string
	if cfg.LLMAPIKey == "" {
		names = append(names, secrets.LLMAPIKey)
	}
	if cfg.LLMBaseURL == "" {
		names = append(names, secrets.BaseURL)
	}
	if cfg.LLMModels == "" {
		names = append(names, secrets.LLMModels)
	}
	if len(names) == 0 {
		return nil
	}

	clog.FromContext(ctx).Infof("fetching %d values from remote config", len(names))
	values, err := secrets.New(ctx, cfg.SecretsEndpoint, cfg.GitHubToken, cfg.SecretsTimeout).Fetch(ctx, names...)
	if err != nil {
		return err
	}
	if v := values[secrets.LLMAPIKey]; v != "" && cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = v
	}
	if v := values[secrets.BaseURL]; v != "" && cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = v
	}
	if v := values[secrets.LLMModels]; v != "" && cfg.LLMModels == "" {
		cfg.LLMModels = v
	}
	return nil
}

// newReconciler wires the git binary and the GitHub client into a
// reconcile.Reconciler.
func newReconciler(gh *ghprovider.Client) (*reconcile.Reconciler, *gitcmd.Runner, error) {
	prType, err := reconcile.ParsePRType(cfg.PRType)
	if err != nil {
		return nil, nil, err
	}
	git := gitcmd.New()
	return reconcile.New(git, gh, reconcile.Options{
		Username:  cfg.GitHubUsername,
		Token:     cfg.GitHubToken,
		PRType:    prType,
		Validator: gh,
	}), git, nil
}

// newCoordinator builds an arena coordinator from the loaded configuration.
// Fields of opts derived from configuration are filled in here.
func newCoordinator(ctx context.Context, gh *ghprovider.Client, store *docstore.Store, env *envfile.File, opts arena.Options) (*arena.Coordinator, error) {
	rec, git, err := newReconciler(gh)
	if err != nil {
		return nil, err
	}
	table, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}

	opts.Models = arena.ParseModelList(cfg.LLMModels)
	opts.MaxIterations = cfg.MaxIterations
	opts.APIKey = cfg.LLMAPIKey
	opts.BaseURL = cfg.LLMBaseURL
	opts.Token = cfg.GitHubToken
	opts.Username = cfg.GitHubUsername

	deps := arena.Deps{
		Agent:      agent.NewCommandRunner(cfg.AgentCommand, cfg.RuntimeImage, cfg.AgentEnv()),
		Reconciler: rec,
		Cloner:     git,
		Store:      store,
		Models:     table,
		Env:        env,
		Notifier:   notifiers(ctx),
	}
	return arena.New(deps, opts)
}
