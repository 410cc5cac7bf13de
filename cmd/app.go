package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nautilabs/nautifier/internal/channels/slack"
	"github.com/nautilabs/nautifier/internal/config"
	"github.com/nautilabs/nautifier/internal/genai"
	"github.com/nautilabs/nautifier/internal/handlers"
	"github.com/nautilabs/nautifier/internal/store/pg"
	"github.com/nautilabs/nautifier/internal/telemetry"
	"github.com/nautilabs/nautifier/internal/worker"
)

// app holds the wired-up runtime pieces shared by the serve, gateway and
// worker commands.
type app struct {
	cfg     *config.Config
	cfgPath string

	db     *sql.DB
	dedup  *pg.PGDedupStore
	queue  *pg.PGTaskQueue
	router *worker.Router
	deps   handlers.Deps

	shutdownTelemetry func(context.Context) error
}

// newApp loads config, connects the database, builds the stores and clients
// and resolves the channel routing table.
func newApp(ctx context.Context) (*app, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.Secrets.PostgresDSN == "" {
		return nil, fmt.Errorf("NAUTIFIER_POSTGRES_DSN environment variable is not set")
	}
	if cfg.Secrets.SlackBotToken == "" {
		return nil, fmt.Errorf("NAUTIFIER_SLACK_BOT_TOKEN environment variable is not set")
	}
	if cfg.Secrets.SlackSigningSecret == "" {
		return nil, fmt.Errorf("NAUTIFIER_SLACK_SIGNING_SECRET environment variable is not set")
	}
	if cfg.Secrets.GeminiAPIKey == "" {
		return nil, fmt.Errorf("NAUTIFIER_GEMINI_API_KEY environment variable is not set")
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	db, err := pg.OpenDB(cfg.Secrets.PostgresDSN, cfg.Database.MaxOpenConns)
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	messenger := slack.New(cfg.Secrets.SlackBotToken, cfg.Slack.PostRatePerSecond, cfg.Slack.ThreadHistoryLimit)
	generator := genai.New(cfg.Secrets.GeminiAPIKey,
		genai.WithBaseURL(cfg.Gemini.APIBase),
		genai.WithTimeout(time.Duration(cfg.Gemini.TimeoutMS)*time.Millisecond),
	)

	deps := handlers.Deps{
		Messenger: messenger,
		Generator: generator,
		Leaves:    pg.NewPGLeaveLedger(db),
		Articles:  pg.NewPGArticleLedger(db),
		Location:  loc,
	}

	routes, err := handlers.BuildRoutes(cfg, deps)
	if err != nil {
		db.Close()
		shutdownTelemetry(ctx)
		return nil, fmt.Errorf("build channel routes: %w", err)
	}
	if len(routes) == 0 {
		slog.Warn("no channel bindings configured, all events will be dropped")
	}

	return &app{
		cfg:               cfg,
		cfgPath:           cfgPath,
		db:                db,
		dedup:             pg.NewPGDedupStore(db),
		queue:             pg.NewPGTaskQueue(db),
		router:            worker.NewRouter(routes),
		deps:              deps,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// watchConfig rebuilds the routing table on config file changes. Only
// channel bindings take effect live; server and pool settings need a
// restart.
func (a *app) watchConfig(ctx context.Context) {
	err := config.Watch(ctx, a.cfgPath, func(cfg *config.Config) {
		routes, err := handlers.BuildRoutes(cfg, a.deps)
		if err != nil {
			slog.Warn("config reload: bad channel bindings, keeping previous routes", "error", err)
			return
		}
		a.router.Update(routes)
		slog.Info("channel routes updated", "channels", len(routes))
	})
	if err != nil {
		slog.Warn("config watch unavailable, live reload disabled", "error", err)
	}
}

func (a *app) close(ctx context.Context) {
	if err := a.db.Close(); err != nil {
		slog.Warn("close database", "error", err)
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		slog.Warn("flush telemetry", "error", err)
	}
}
