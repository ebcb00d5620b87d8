package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nichefeed/internal/config"
	"nichefeed/internal/database"
	"nichefeed/internal/feed"
	"nichefeed/internal/notify"
	"nichefeed/internal/pipeline"
	"nichefeed/internal/scheduler"
	"nichefeed/internal/summarizer"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		log.ErrorContext(ctx, "WEBHOOK_URL is required",
			"envVar", "WEBHOOK_URL")

		return
	}

	rules, err := config.LoadRules(cfg.ConfigPath)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load rules",
			"error", err,
			"configPath", cfg.ConfigPath)

		return
	}
	log.InfoContext(ctx, "Rules are loaded",
		"configPath", cfg.ConfigPath,
		"categoryCount", len(rules.Categories))

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

	pipeCfg := pipeline.Config{
		Store:   store,
		Fetcher: feed.NewFetcher(log),
		Sender:  notify.NewDiscord(webhookURL, log),
		Rules:   rules,
		Log:     log,
	}

	if summ := initOpenAISummarizer(ctx, cfg.OpenAIAPIKey, log); summ != nil {
		pipeCfg.Summarizer = summ
		pipeCfg.Extractor = summarizer.NewExtractor(log)
	}

	if mirror := initTelegramMirror(ctx, cfg, log); mirror != nil {
		pipeCfg.Mirror = mirror
		defer mirror.Stop()
	}

	pipe := pipeline.New(pipeCfg)

	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		go serveMetrics(ctx, addr, log)
	}

	spec := strings.TrimSpace(cfg.CronSchedule)
	if spec == "" {
		pipe.Run(ctx)
		log.InfoContext(ctx, "Single pass finished",
			"uptimeSeconds", time.Since(start).Seconds())

		return
	}

	sched := scheduler.New(ctx, spec, pipe, log)
	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", spec)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", spec)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}

func initOpenAISummarizer(ctx context.Context, apiKey string, log *slog.Logger) summarizer.Summarizer {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		log.WarnContext(ctx, "OPENAI_API_KEY is missing so summaries are disabled",
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	s, err := summarizer.NewOpenAISummarizer(apiKey)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create OpenAI summarizer so summaries are disabled",
			"error", err,
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai")

	return s
}

func initTelegramMirror(ctx context.Context, cfg config.Config, log *slog.Logger) *notify.Telegram {
	token := strings.TrimSpace(cfg.TelegramBotToken)
	if token == "" || cfg.TelegramChatID == 0 {
		return nil
	}

	mirror, err := notify.NewTelegram(token, cfg.TelegramChatID, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize Telegram mirror so mirroring is disabled",
			"error", err,
			"chatID", cfg.TelegramChatID)

		return nil
	}

	log.InfoContext(ctx, "Telegram mirror is initialized",
		"chatID", cfg.TelegramChatID)

	return mirror
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorContext(ctx, "Failed to shut down metrics server",
				"error", err)
		}
	}()

	log.InfoContext(ctx, "Metrics server is started",
		"addr", addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.ErrorContext(ctx, "Metrics server failed",
			"error", err,
			"addr", addr)
	}
}
