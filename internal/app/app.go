// Package app wires the adapters into a FindingProcessor for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/guardybot/internal/adapter/cache"
	"github.com/hive-corporation/guardybot/internal/adapter/httpclient"
	"github.com/hive-corporation/guardybot/internal/adapter/notifier"
	"github.com/hive-corporation/guardybot/internal/adapter/repository"
	"github.com/hive-corporation/guardybot/internal/config"
	"github.com/hive-corporation/guardybot/internal/core/service"
)

// App holds the processor and the connections it depends on.
type App struct {
	Processor *service.FindingProcessor
	Loader    *config.Loader
	Notifier  *notifier.SlackNotifier
	Guard     *cache.RedisGuard
	DB        *pgxpool.Pool
	Repo      *repository.PostgresRepository
}

// New builds the pipeline from cfg. Slack, Redis and Postgres are each
// optional: without Slack the processor can only preview, without Redis
// there is no duplicate suppression, without Postgres there is no audit log.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	loader, err := config.NewLoader(cfg.PresentationPath, logger)
	if err != nil {
		return nil, err
	}
	a.Loader = loader

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithPresentation(loader.Presentation()),
	}

	if cfg.HasNotifier() {
		n, err := notifier.NewSlackNotifier(notifier.SlackConfig{
			WebhookURL: cfg.WebhookURL,
			BotToken:   cfg.SlackBotToken,
			Channel:    cfg.SlackChannel,
		}, httpclient.DefaultConfig(), logger)
		if err != nil {
			return nil, err
		}
		a.Notifier = n
		logger.Info("📣 slack notifier configured", "mode", n.Name())
	} else {
		logger.Warn("⚠️ WEBHOOK_URL and SLACK_BOT_TOKEN not set - findings cannot be delivered")
	}

	if cfg.RedisURL != "" {
		guard, err := cache.NewRedisGuard(cache.RedisOptions{URL: cfg.RedisURL, TTL: cfg.DedupeTTL})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Guard = guard
		opts = append(opts, service.WithDuplicateGuard(guard))
		logger.Info("✅ duplicate guard connected", "ttl", cfg.DedupeTTL)
	}

	if cfg.DatabaseURL != "" {
		pool, err := repository.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("delivery audit log: %w", err)
		}
		a.DB = pool
		a.Repo = repository.NewPostgresRepository(pool)
		opts = append(opts, service.WithDeliveryRepository(a.Repo))
		logger.Info("✅ delivery audit log connected")
	}

	// A nil *SlackNotifier must not become a non-nil interface.
	if a.Notifier != nil {
		a.Processor = service.NewFindingProcessor(a.Notifier, opts...)
	} else {
		a.Processor = service.NewFindingProcessor(nil, opts...)
	}

	loader.OnChange(a.Processor.SetPresentation)
	return a, nil
}

// Close releases the connections.
func (a *App) Close() {
	if a.Guard != nil {
		a.Guard.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
