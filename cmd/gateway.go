package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nautilabs/nautifier/internal/gateway"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run only the webhook intake gateway",
		Long: "Runs the synchronous intake side: webhook verification, dedup and enqueue.\n" +
			"Pair with one or more `nautifier worker` processes sharing the same database.",
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

			srv := gateway.NewServer(a.cfg.Gateway, a.cfg.Secrets.SlackSigningSecret,
				a.cfg.Dedup.TTL(), a.dedup, a.queue, a.db)
			if err := srv.Start(ctx); err != nil {
				slog.Error("gateway stopped with error", "error", err)
				os.Exit(1)
			}
		},
	}
}
