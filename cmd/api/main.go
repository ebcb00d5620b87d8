package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nichefeed/internal/api"
	"nichefeed/internal/config"
	"nichefeed/internal/database"
	"nichefeed/internal/feed"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	rules, err := config.LoadRules(cfg.ConfigPath)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load rules",
			"error", err,
			"configPath", cfg.ConfigPath)

		return
	}

	store, err := database.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to open store",
			"error", err)

		return
	}
	defer func() {
		if err = store.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close store",
				"error", err)
		}
	}()
	log.InfoContext(ctx, "Store is initialized")

	e := api.NewRouter(api.RouterConfig{
		Store:     store,
		Rules:     rules,
		Discovery: feed.NewFetcher(log),
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(cfg.ListenAddr)
	}()
	log.InfoContext(ctx, "API server is started",
		"addr", cfg.ListenAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "API server failed",
				"error", err,
				"addr", cfg.ListenAddr)
		}

		return
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = e.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shut down API server",
			"error", err)
	}
}
