package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nautilabs/nautifier/internal/channels/slack"
	"github.com/nautilabs/nautifier/internal/config"
	"github.com/nautilabs/nautifier/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, credentials and database health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("nautifier doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("Bot token", cfg.Secrets.SlackBotToken)
	checkSecret("Signing", cfg.Secrets.SlackSigningSecret)
	checkSecret("Gemini key", cfg.Secrets.GeminiAPIKey)

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Secrets.PostgresDSN == "" {
		fmt.Printf("    %-12s NAUTIFIER_POSTGRES_DSN not set\n", "Status:")
	} else {
		checkDatabase(ctx, cfg.Secrets.PostgresDSN)
	}

	fmt.Println()
	fmt.Println("  Slack:")
	if cfg.Secrets.SlackBotToken == "" {
		fmt.Printf("    %-12s no token\n", "Status:")
	} else {
		client := slack.New(cfg.Secrets.SlackBotToken, cfg.Slack.PostRatePerSecond, cfg.Slack.ThreadHistoryLimit)
		if user, err := client.AuthTest(ctx); err != nil {
			fmt.Printf("    %-12s auth.test FAILED (%s)\n", "Status:", err)
		} else {
			fmt.Printf("    %-12s authenticated as %s\n", "Status:", user)
		}
	}

	fmt.Println()
	fmt.Println("  Channels:")
	if len(cfg.Channels) == 0 {
		fmt.Println("    (none configured)")
	}
	for _, b := range cfg.Channels {
		model := b.Model
		if model == "" {
			model = cfg.Gemini.DefaultModel
		}
		fmt.Printf("    %-14s %s (%s)\n", b.ChannelID+":", b.Kind, model)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not set)\n", name+":")
		return
	}
	masked := "****"
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkDatabase(ctx context.Context, dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")

	var queued, dead int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'queued'), COUNT(*) FILTER (WHERE status = 'dead') FROM tasks`,
	).Scan(&queued, &dead); err != nil {
		fmt.Printf("    %-12s schema missing (run: nautifier migrate up)\n", "Tasks:")
		return
	}
	fmt.Printf("    %-12s %d queued, %d dead\n", "Tasks:", queued, dead)

	if dead > 0 {
		letters, err := pg.NewPGTaskQueue(db).DeadLetters(ctx, 5)
		if err != nil {
			return
		}
		for _, d := range letters {
			fmt.Printf("    %-12s %s attempt=%d died=%s error=%s\n", "Dead:",
				d.Task.Event.EventID, d.Task.Attempt,
				d.DiedAt.Format(time.RFC3339), d.LastError)
		}
	}
}
