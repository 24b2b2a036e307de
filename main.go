// Package main implements a service that watches followed Spotify artists
// for new releases and posts notifications to a Telegram channel.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	gcs "cloud.google.com/go/storage"

	"spotify-notifier/catalog"
	"spotify-notifier/config"
	"spotify-notifier/diff"
	"spotify-notifier/metrics"
	"spotify-notifier/monitor"
	"spotify-notifier/queue"
	"spotify-notifier/server"
	"spotify-notifier/storage"
	"spotify-notifier/telegram"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg == nil {
		// Help was requested.
		return
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Default to local development mode if no bucket specified.
	localStorage := cfg.LocalStorage
	if cfg.StorageBucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var store *storage.Store
	if localStorage != "" {
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
		store = storage.New(nil, "", localStorage, logger)
	} else {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store = storage.New(client, cfg.StorageBucket, "", logger)
	}

	collector := metrics.NewCollector()

	// Mock sink unless a bot token is configured.
	var sink queue.Sink
	if cfg.TelegramToken == "" {
		logger.Info("Mock sink mode enabled (no TELEGRAM_TOKEN)")
		sink = telegram.NewMockSink(logger)
	} else {
		bot := telegram.New(&telegram.Config{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Logger: logger,
		})
		// Optional diagnostic; a failed self-check is worth knowing about
		// but does not block startup.
		if err := bot.SelfCheck(ctx); err != nil {
			logger.Warn("Telegram permission self-check failed", "error", err)
		}
		sink = bot
	}

	cat := catalog.New(&catalog.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RefreshToken: cfg.SpotifyRefreshToken,
		Logger:       logger,
	})

	engine := diff.New(&diff.Config{
		Catalog:     cat,
		Logger:      logger,
		Lookback:    cfg.Lookback(),
		AttachPolls: cfg.AttachPolls(),
		ShowGenres:  cfg.ShowGenres(),
		MaxGenres:   cfg.MaxGenres,
	})

	q := queue.New(ctx, &queue.Config{
		Sink:              sink,
		Logger:            logger,
		Collector:         collector,
		BaseSpacing:       cfg.DeliverySpacing(),
		PollQuestionLimit: telegram.PollQuestionLimit,
	})

	mon := monitor.New(&monitor.Config{
		Catalog:         cat,
		Store:           store,
		Engine:          engine,
		Queue:           q,
		Logger:          logger,
		Collector:       collector,
		PruneUnfollowed: cfg.PruneUnfollowed,
	})

	go mon.Run(ctx, cfg.PassInterval())

	srv := server.New(&server.Config{
		Poller:  mon,
		Logger:  logger,
		Metrics: collector.Handler(),
	})
	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
