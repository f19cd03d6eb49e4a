package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/guardybot/internal/adapter/handler"
	"github.com/hive-corporation/guardybot/internal/adapter/metrics"
	"github.com/hive-corporation/guardybot/internal/adapter/telemetry"
	"github.com/hive-corporation/guardybot/internal/app"
	"github.com/hive-corporation/guardybot/internal/config"
	"github.com/hive-corporation/guardybot/internal/core/ports"
)

var version = "dev"

func main() {
	cfg, err := config.LoadEnv()
	if err != nil {
		slog.Error("❌ invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel, false)
	slog.SetDefault(logger)

	// Initialize Prometheus metrics
	metrics.InitMetrics()

	tp := telemetry.NewTracerProvider("guardybot-api", version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("❌ failed to initialize", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if cfg.PresentationPath != "" {
		stopWatch, err := application.Loader.Watch()
		if err != nil {
			logger.Warn("⚠️ presentation hot reload disabled", "error", err)
		} else {
			defer stopWatch()
			logger.Info("👀 watching presentation config", "path", cfg.PresentationPath)
		}
	}

	// gRPC health
	healthServer := handler.NewHealthServer(logger)
	if application.Guard != nil {
		healthServer.Track("redis", application.Guard)
	}
	if application.DB != nil {
		healthServer.Track("postgres", application.DB)
	}
	go healthServer.Run(ctx, 15*time.Second)

	grpcServer := handler.NewGrpcServer(healthServer)
	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		logger.Error("❌ failed to listen", "addr", cfg.GRPCListenAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("🚀 gRPC health server listening", "addr", cfg.GRPCListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("❌ gRPC server stopped", "error", err)
		}
	}()

	// REST API
	var repo ports.DeliveryRepository
	if application.Repo != nil {
		repo = application.Repo
	}
	restHandler := handler.NewRestHandler(application.Processor, repo, logger)

	router := mux.NewRouter()
	restHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Middleware
	router.Use(handler.LoggingMiddleware(logger))
	router.Use(handler.AuthMiddleware(cfg.RestAuthToken, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.RestAPIPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("🚀 GuardyBot REST API listening", "port", cfg.RestAPIPort, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to flush spans", "error", err)
	}

	logger.Info("✅ server exited")
}
