package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/matthew-salter/panny-panface/internal/agents"
	"github.com/matthew-salter/panny-panface/internal/api"
	"github.com/matthew-salter/panny-panface/internal/config"
	"github.com/matthew-salter/panny-panface/internal/delivery"
	"github.com/matthew-salter/panny-panface/internal/events"
	"github.com/matthew-salter/panny-panface/internal/kv"
	"github.com/matthew-salter/panny-panface/internal/realtime"
	"github.com/matthew-salter/panny-panface/internal/store"
	"github.com/matthew-salter/panny-panface/internal/webhook"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel, cfg.Development())

	slog.Info("panface starting",
		"port", cfg.Port,
		"env", cfg.Env,
		"kv_backend", cfg.KVBackend,
		"nats_url", cfg.NatsURL,
		"cleanup_interval", cfg.CleanupInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Open the key-value backend.
	backend, err := kv.Open(ctx, cfg.KVBackend, kv.Options{
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		slog.Error("failed to open kv backend", "backend", cfg.KVBackend, "error", err)
		os.Exit(1)
	}
	db := store.New(backend)
	defer db.Close()
	slog.Info("kv backend ready", "backend", cfg.KVBackend)

	// Step 2: Connect to NATS for lifecycle events, if configured.
	var pub events.Publisher = events.Nop{}
	if cfg.NatsURL != "" {
		bus, err := events.Connect(ctx, cfg.NatsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		pub = bus
		slog.Info("NATS event bus connected")
	}

	// Step 3: Build the delivery pipeline.
	if cfg.WebhookURL == "" {
		slog.Warn("ZAPIER_WEBHOOK_URL is not set, transcript saves will be rejected")
	}
	hook := webhook.NewClient(cfg.WebhookURL, cfg.WebhookTimeout)
	pipeline := delivery.New(db, hook,
		delivery.WithPublisher(pub),
		delivery.WithMaxAge(cfg.CleanupMaxAge),
	)

	// Step 4: Load agent definitions and the realtime credential minter.
	sets, err := agents.Load(cfg.AgentsFile)
	if err != nil {
		slog.Error("failed to load agents", "path", cfg.AgentsFile, "error", err)
		os.Exit(1)
	}
	minter := realtime.NewMinter(realtime.MinterConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.RealtimeModel,
		Voice:  cfg.RealtimeVoice,
	})

	// Step 5: Start the HTTP API and the optional cleanup sweeper.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(pipeline, minter, sets, cfg.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if cfg.CleanupInterval > 0 {
		sweeper := delivery.NewSweeper(pipeline, cfg.CleanupInterval)
		sweeper.Start(gctx)
		g.Go(func() error {
			sweeper.Wait()
			return nil
		})
		slog.Info("cleanup sweeper started", "interval", cfg.CleanupInterval, "max_age", cfg.CleanupMaxAge)
	}

	slog.Info("panface ready", "port", cfg.Port)

	if err := g.Wait(); err != nil {
		slog.Error("HTTP server error", "error", err)
		cancel()
		os.Exit(1)
	}
	slog.Info("panface stopped")
}

func setupLogging(level string, development bool) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if development {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
