// Package config loads process settings from the environment and the
// optional presentation file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hive-corporation/guardybot/internal/adapter/cache"
)

// Config holds the process-level settings.
type Config struct {
	WebhookURL    string
	SlackBotToken string
	SlackChannel  string

	DatabaseURL string

	RedisURL  string
	DedupeTTL time.Duration

	PresentationPath string
	LogLevel         slog.Level

	RestAPIPort    string
	RestAuthToken  string
	GRPCListenAddr string
}

// LoadEnv reads .env (if present) and the process environment.
func LoadEnv() (Config, error) {
	// Load .env file if it exists (optional)
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		WebhookURL:       os.Getenv("WEBHOOK_URL"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:     GetEnv("SLACK_CHANNEL", "#security-alerts"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DedupeTTL:        cache.DefaultTTL,
		PresentationPath: os.Getenv("PRESENTATION_CONFIG"),
		RestAPIPort:      GetEnv("REST_API_PORT", "8080"),
		RestAuthToken:    os.Getenv("REST_API_AUTH_TOKEN"),
		GRPCListenAddr:   GetEnv("GRPC_LISTEN_ADDR", "localhost:50051"),
	}

	if raw := os.Getenv("DEDUPE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return cfg, fmt.Errorf("invalid DEDUPE_TTL %q: must be a positive duration", raw)
		}
		cfg.DedupeTTL = ttl
	}

	level, err := ParseLogLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return cfg, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

// HasNotifier reports whether a Slack destination is configured.
func (c Config) HasNotifier() bool {
	return c.WebhookURL != "" || c.SlackBotToken != ""
}

// GetEnv returns the variable or a fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// ParseLogLevel accepts debug, info, warn/warning and error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported LOG_LEVEL: %q", s)
	}
}

// NewLogger builds the process logger. JSON output suits Lambda and
// container log collectors.
func NewLogger(level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
