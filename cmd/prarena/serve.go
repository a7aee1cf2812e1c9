package main

import (
	"context"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neulab/pr-arena/internal/arena"
	"github.com/neulab/pr-arena/internal/decision"
	"github.com/neulab/pr-arena/internal/envfile"
	"github.com/neulab/pr-arena/internal/server"
	ghprovider "github.com/neulab/pr-arena/pkg/gitprovider/github"
)

var serveFlags struct {
	addr    string
	webhook bool
	uuid    string
	owner   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PR Arena API server",
	Long: `Serve the comparison API and Prometheus metrics.

With --webhook, labeled GitHub issues start arena runs. With --uuid and
--owner, the server also waits for that comparison's decision and exits once
it is recorded.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "Listen address (default $PRARENA_ADDR)")
	f.BoolVar(&serveFlags.webhook, "webhook", false, "Accept GitHub issue webhooks")
	f.StringVar(&serveFlags.uuid, "uuid", "", "Comparison to wait on")
	f.StringVar(&serveFlags.owner, "owner", "", "Repository owner whose user record gets the decision")
	serveCmd.MarkFlagsRequiredTogether("uuid", "owner")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fl := serveFlags
	if fl.addr != "" {
		cfg.ServerAddr = fl.addr
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := server.Options{
		Addr:          cfg.ServerAddr,
		WebhookSecret: cfg.WebhookSecret,
		TriggerLabel:  cfg.TriggerLabel,
		RunDir:        filepath.Join(cfg.DataDir, "runs"),
	}

	var srv *server.Server
	if fl.webhook {
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
		coord, err := newCoordinator(ctx, gh, store, nil, arena.Options{Push: true})
		if err != nil {
			return err
		}
		srv = server.New(store, coord, gh, opts)
	} else {
		srv = server.New(store, nil, nil, opts)
	}

	// A recorded decision stops the server too.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })

	if fl.uuid != "" {
		env, err := envfile.FromEnv()
		if err != nil {
			clog.FromContext(ctx).Infof("not writing workflow outputs: %v", err)
		}
		listener := decision.NewListener(store, env, notifiers(ctx))
		g.Go(func() error {
			defer stop()
			_, err := listener.Listen(ctx, fl.owner, fl.uuid)
			return err
		})
	}

	return g.Wait()
}
