package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"feedbell/internal/config"
	"feedbell/internal/feedlist"
	"feedbell/internal/fetcher"
	"feedbell/internal/notify"
	"feedbell/internal/profile"
	"feedbell/internal/scheduler"
	"feedbell/internal/storage"
	"feedbell/internal/thumbnail"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	feeds, err := feedlist.NewWatcher(cfg.URLsPath, log)
	if err != nil {
		log.Error("load urls file", "path", cfg.URLsPath, "error", err)
		os.Exit(1)
	}

	thumbs, err := thumbnail.New(cfg.TmpDir, cfg.Feed.FetchTimeout(), log)
	if err != nil {
		log.Error("prepare thumbnail dir", "path", cfg.TmpDir, "error", err)
		os.Exit(1)
	}
	defer thumbs.CleanDir()

	transport, err := notify.NewDBusTransport()
	if err != nil {
		log.Error("connect notification service", "error", err)
		os.Exit(1)
	}
	defer func() { _ = transport.Close() }()

	dispatcher := notify.New(transport, notify.ExecLauncher{}, thumbs, cfg.Feed.FloodCap, log)
	resolver := profile.New(cfg.Profiles, log)
	f := fetcher.New(http.DefaultClient, cfg.Feed.FetchTimeout())

	sched := scheduler.New(store, f, feeds, resolver, dispatcher, scheduler.Config{
		Interval:        cfg.Feed.SearchInterval(),
		Window:          cfg.Feed.SearchWindow(),
		SearchOnStartup: cfg.Feed.SearchOnStartup,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting feedbell",
		"interval", cfg.Feed.SearchInterval(),
		"window", cfg.Feed.SearchWindow(),
		"flood_cap", cfg.Feed.FloodCap)

	go func() {
		if err := feeds.Watch(ctx); err != nil {
			log.Warn("urls file watcher stopped", "error", err)
		}
	}()
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			log.Error("notification signal loop stopped", "error", err)
		}
	}()

	sched.Run(ctx)

	log.Info("feedbell stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
