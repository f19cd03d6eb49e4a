package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/hive-corporation/guardybot/internal/adapter/metrics"
	"github.com/hive-corporation/guardybot/internal/adapter/telemetry"
	"github.com/hive-corporation/guardybot/internal/adapter/trigger"
	"github.com/hive-corporation/guardybot/internal/app"
	"github.com/hive-corporation/guardybot/internal/config"
)

var version = "dev"

func main() {
	cfg, err := config.LoadEnv()
	if err != nil {
		slog.Error("❌ invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel, true)
	slog.SetDefault(logger)

	metrics.InitMetrics()

	tp := telemetry.NewTracerProvider("guardybot-lambda", version, logger)
	defer tp.Shutdown(context.Background())

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("❌ failed to initialize", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	handler := trigger.NewLambdaHandler(application.Processor, logger)

	logger.Info("🚀 GuardyBot Lambda ready", "version", version)
	lambda.Start(func(ctx context.Context, evt events.SNSEvent) error {
		err := handler.Handle(ctx, evt)
		// Lambda may freeze the process between invocations.
		if ferr := tp.ForceFlush(ctx); ferr != nil {
			logger.Warn("failed to flush spans", "error", ferr)
		}
		return err
	})
}
