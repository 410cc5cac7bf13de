package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nautilabs/nautifier/internal/gateway"
	"github.com/nautilabs/nautifier/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intake gateway and the worker pool in one process",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close(context.Background())

	a.watchConfig(ctx)

	srv := gateway.NewServer(a.cfg.Gateway, a.cfg.Secrets.SlackSigningSecret,
		a.cfg.Dedup.TTL(), a.dedup, a.queue, a.db)
	pool := worker.NewPool(a.cfg.Worker, a.queue, a.router, a.dedup, a.cfg.Dedup.PurgeSchedule)

	slog.Info("nautifier starting", "version", Version, "channels", len(a.cfg.Channels))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error { return pool.Run(ctx) })

	if err := g.Wait(); err != nil {
		slog.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
