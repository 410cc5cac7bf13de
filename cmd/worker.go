package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nautilabs/nautifier/internal/worker"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the task consumer pool",
		Long: "Runs the asynchronous consumer side: leases queued events, routes them to\n" +
			"persona handlers, retries transient failures and dead-letters the rest.",
		Run: func(cmd *cobra.Command, args []string) {
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

			pool := worker.NewPool(a.cfg.Worker, a.queue, a.router, a.dedup, a.cfg.Dedup.PurgeSchedule)
			if err := pool.Run(ctx); err != nil {
				slog.Error("worker pool stopped with error", "error", err)
				os.Exit(1)
			}
		},
	}
}
