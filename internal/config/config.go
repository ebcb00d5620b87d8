package config

import "github.com/caarlos0/env/v11"

type Config struct {
	WebhookURL       string `env:"WEBHOOK_URL"`
	DatabaseURL      string `env:"DATABASE_URL"       envDefault:"nichefeed.sqlite"`
	ConfigPath       string `env:"CONFIG_PATH"        envDefault:"config.yaml"`
	CronSchedule     string `env:"CRON_SCHEDULE"`
	ListenAddr       string `env:"LISTEN_ADDR"        envDefault:":8080"`
	MetricsAddr      string `env:"METRICS_ADDR"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`
}

func Load() Config {
	var cfg Config
	return env.Must(cfg, env.Parse(&cfg))
}
