package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	imageingest "github.com/Skryldev/image-ingest"
	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/hooks"
	"github.com/Skryldev/image-ingest/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := hooks.NewLogger(os.Stdout, cfg.LogLevel, cfg.Production())

	tracing, err := hooks.NewTracing(context.Background(), cfg.Tracing, imageingest.Version)
	if err != nil {
		logger.Error("tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()
	if tracing.Enabled() {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_rate", cfg.Tracing.SampleRate)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	svc, err := imageingest.New(startCtx, cfg, imageingest.WithLogger(logger))
	cancel()
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetricsHandler(svc.MetricsHandler()),
	}
	if !cfg.Production() {
		opts = append(opts, server.WithAccessLog())
	}
	app := server.New(svc, cfg, opts...)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(cfg.RequestTimeout); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	logger.Info("listening", "port", cfg.Port, "env", cfg.AppEnv, "strategy", svc.Status().Strategy)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("listen", "error", err)
		svc.Close()
		os.Exit(1)
	}
}
