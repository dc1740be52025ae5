// Sentinel server — polls repository activity, persists it, and serves
// the HTTP API, websocket hub, and scheduled report pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/github-sentinel/sentinel/pkg/api"
	"github.com/github-sentinel/sentinel/pkg/collector"
	"github.com/github-sentinel/sentinel/pkg/config"
	"github.com/github-sentinel/sentinel/pkg/database"
	"github.com/github-sentinel/sentinel/pkg/github"
	"github.com/github-sentinel/sentinel/pkg/llm"
	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/notify"
	"github.com/github-sentinel/sentinel/pkg/realtime"
	"github.com/github-sentinel/sentinel/pkg/report"
	"github.com/github-sentinel/sentinel/pkg/scheduler"
	"github.com/github-sentinel/sentinel/pkg/store"
	"github.com/github-sentinel/sentinel/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sentinel <command> [flags]

Commands:
  serve             Run the server (HTTP API, websocket hub, scheduler)
  init              Write a default config file and provision the demo user
  add-subscription  Subscribe a user to a repository
  collect           Run one collection sweep and exit

Global flags:
  --config-dir DIR  Configuration directory (default $CONFIG_DIR or ./config)
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "serve":
		runServe(args)
	case "init":
		runInit(args)
	case "add-subscription":
		runAddSubscription(args)
	case "collect":
		runCollect(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
	}
}

func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config-dir", getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
}

// loadConfig loads .env from the config directory, then the YAML
// configuration, and sets up the process logger.
func loadConfig(configDir string) *config.Config {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Initialize(configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("Could not open log file, logging to stdout", "path", cfg.LogFile, "error", err)
		} else {
			out = f
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

func connect(ctx context.Context, cfg *config.Config) (*database.Client, *store.Store) {
	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database")
	return dbClient, store.New(dbClient.DB())
}

func newEnricher(cfg *config.Config) *llm.Service {
	if cfg.AI.APIKey == "" {
		slog.Info("No AI API key configured, reports use deterministic summaries")
		return llm.NewService(nil)
	}
	return llm.NewService(llm.NewOpenAIProvider(cfg.AI))
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configDir := commonFlags(fs)
	host := fs.String("host", "", "Bind address (overrides app.host)")
	port := fs.Int("port", 0, "Listen port (overrides app.port)")
	_ = fs.Parse(args)

	ctx := context.Background()
	cfg := loadConfig(*configDir)
	if *host != "" {
		cfg.App.Host = *host
	}
	if *port != 0 {
		cfg.App.Port = *port
	}

	slog.Info("Starting sentinel",
		"version", version.Version,
		"addr", cfg.App.Addr(),
		"config_dir", *configDir)

	dbClient, st := connect(ctx, cfg)
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()

	// A token is only required once there is something to poll.
	if cfg.GitHub.Token == "" {
		subs, err := st.ListActiveSubscriptions(ctx)
		if err != nil {
			slog.Error("Failed to list subscriptions", "error", err)
			os.Exit(1)
		}
		if len(subs) > 0 {
			slog.Error("github.token is required: active subscriptions exist", "count", len(subs))
			os.Exit(1)
		}
		slog.Warn("No github.token configured; collection will fail once subscriptions are added")
	}

	gh := github.NewClient(cfg.GitHub)
	hub := realtime.NewHub()
	notifier := notify.NewService(cfg.Notification, hub)
	enricher := newEnricher(cfg)

	coll := collector.NewService(gh, st, notifier, collector.DefaultFanOut)
	reports := report.NewService(st, coll, enricher, hub, notifier, nil)
	sched := scheduler.New(st, coll, reports, cfg.Schedule, cfg.Retention)
	reports.SetJobs(sched)

	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	httpServer := api.NewServer(cfg, st, reports, coll, sched, hub, dbClient.DB())
	httpServer.SetConfigDir(*configDir)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(cfg.App.Addr()); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Sentinel started", "schedule_enabled", cfg.Schedule.Enabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Scheduler first so no new work starts while requests drain.
	stopCtx, stopCancel := context.WithTimeout(ctx, 35*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// runInit writes a default config file (if none exists) and provisions
// the demo user so dev-mode token auth works out of the box.
func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configDir := commonFlags(fs)
	_ = fs.Parse(args)

	if err := os.MkdirAll(*configDir, 0o755); err != nil {
		slog.Error("Failed to create config directory", "path", *configDir, "error", err)
		os.Exit(1)
	}

	path := filepath.Join(*configDir, "config.yml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		data, err := yaml.Marshal(config.DefaultConfig())
		if err != nil {
			slog.Error("Failed to render default configuration", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			slog.Error("Failed to write config file", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("Wrote default configuration", "path", path)
	} else {
		slog.Info("Config file already exists, leaving it untouched", "path", path)
	}

	ctx := context.Background()
	cfg := loadConfig(*configDir)
	dbClient, st := connect(ctx, cfg)
	defer dbClient.Close()

	if _, err := st.GetUserByUsername(ctx, "demo"); err == nil {
		slog.Info("Demo user already provisioned")
		return
	}
	u, err := st.CreateUser(ctx, &models.User{
		Username: "demo",
		Email:    "demo@localhost",
		FullName: "Demo User",
		Active:   true,
	})
	if err != nil {
		slog.Error("Failed to provision demo user", "error", err)
		os.Exit(1)
	}
	slog.Info("Provisioned demo user", "user_id", u.ID)
}

func runAddSubscription(args []string) {
	fs := flag.NewFlagSet("add-subscription", flag.ExitOnError)
	configDir := commonFlags(fs)
	repo := fs.String("repo", "", "Repository reference, owner/name")
	username := fs.String("user", "demo", "Owning username")
	frequency := fs.String("frequency", string(models.CadenceDaily), "Report cadence: daily, weekly, or monthly")
	_ = fs.Parse(args)

	if err := models.ValidateRepoRef(*repo); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --repo: %v\n", err)
		os.Exit(2)
	}
	cadence := models.Cadence(*frequency)
	if !cadence.Valid() {
		fmt.Fprintf(os.Stderr, "invalid --frequency %q\n", *frequency)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := loadConfig(*configDir)
	dbClient, st := connect(ctx, cfg)
	defer dbClient.Close()

	u, err := st.GetUserByUsername(ctx, *username)
	if err != nil {
		slog.Error("Unknown user", "username", *username, "error", err)
		os.Exit(1)
	}

	sub, err := st.CreateSubscription(ctx, &models.Subscription{
		OwnerUserID: u.ID,
		Repo:        *repo,
		Status:      models.SubscriptionActive,
		Cadence:     cadence,
		Watches:     models.WatchSet{Commits: true, Issues: true, PullRequests: true, Releases: true},
	})
	if err != nil {
		slog.Error("Failed to create subscription", "repo", *repo, "error", err)
		os.Exit(1)
	}
	slog.Info("Subscription created", "subscription_id", sub.ID, "repo", sub.Repo, "cadence", sub.Cadence)
}

// runCollect runs one synchronous sweep over all active subscriptions.
func runCollect(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	configDir := commonFlags(fs)
	window := fs.Duration("window", collector.DefaultWindow, "Lookback window for never-synced subscriptions")
	_ = fs.Parse(args)

	ctx := context.Background()
	cfg := loadConfig(*configDir)
	if cfg.GitHub.Token == "" {
		slog.Error("github.token is required for collection")
		os.Exit(1)
	}
	dbClient, st := connect(ctx, cfg)
	defer dbClient.Close()

	gh := github.NewClient(cfg.GitHub)
	coll := collector.NewService(gh, st, nil, collector.DefaultFanOut)

	sweep, err := coll.CollectAll(ctx, *window)
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Sweep complete",
		"subscriptions", sweep.Subscriptions,
		"inserted", sweep.Inserted,
		"updated", sweep.Updated,
		"errors", sweep.Errors)
}
