package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/telemetry"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/pkg/revops"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("REVOPS_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	configPath := os.Getenv("REVOPS_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	// Telemetry is set up once at startup; later config edits only reload
	// destinations.
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("Failed to read config: %v", err)
	}

	if cfg.Telemetry.Tracing {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, os.Stderr, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	metrics, err := telemetry.InitMetrics(cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer metrics.Shutdown(context.Background())

	p, err := revops.New(
		revops.WithFileConfig(configPath),
		revops.WithMetrics(metrics),
		revops.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, draining pipeline...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
