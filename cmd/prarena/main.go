// PR Arena
//
// Resolves a GitHub issue with two anonymous models and lets a human pick
// the better fix.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/neulab/pr-arena/internal/config"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/logging"
	"github.com/neulab/pr-arena/internal/notify"
)

var (
	version = "dev"

	logFile string
	verbose bool

	cfg      *config.Config
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "prarena",
	Short: "PR Arena - compare two models on the same issue",
	Long: `PR Arena runs two randomly chosen models against a GitHub issue, pushes
each fix to its own branch and waits for a human to pick the winner.

  prarena config set GITHUB_TOKEN ghp_xxx                 Set up tokens (first time)
  prarena resolve --repo owner/repo --issue-number 12     Run both attempts
  prarena listen --repo owner/repo --uuid <id>            Wait for the decision
  prarena decide --uuid <id> --winner modelA              Record a decision
  prarena serve                                           Start the API server`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// config subcommands edit the file that Load would apply to the
		// environment.
		if cmd.Parent() == configCmd {
			return nil
		}
		c, err := config.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = c

		path := logFile
		if path == "" {
			path = cfg.LogFile
		}
		ctx, closeFn, err := logging.Setup(ctx, path, verbose)
		if err != nil {
			return err
		}
		closeLog = closeFn
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file (default ~/.prarena/prarena.log)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// splitRepo splits "owner/repo".
func splitRepo(full string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/repo", full)
	}
	return owner, repo, nil
}

func openStore() (*docstore.Store, error) {
	store, err := docstore.Open(cfg.DatabasePath, nil, docstore.WithPollInterval(cfg.PollInterval))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}

// notifiers builds the configured notification channels.
func notifiers(ctx context.Context) notify.Notifier {
	var m notify.Multi
	if cfg.SlackEnabled() {
		m = append(m, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel))
	}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			clog.FromContext(ctx).Warnf("telegram notifications disabled: %v", err)
		} else {
			m = append(m, tg)
		}
	}
	if len(m) == 0 {
		return notify.Nop{}
	}
	return m
}
