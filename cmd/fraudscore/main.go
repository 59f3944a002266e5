// fraudscore - Fraud scoring, attribution and analytics over HTTP.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudscore/internal/api"
	"github.com/opensource-finance/fraudscore/internal/bus"
	"github.com/opensource-finance/fraudscore/internal/config"
	"github.com/opensource-finance/fraudscore/internal/dataset"
	"github.com/opensource-finance/fraudscore/internal/domain"
	"github.com/opensource-finance/fraudscore/internal/metrics"
	"github.com/opensource-finance/fraudscore/internal/model"
	"github.com/opensource-finance/fraudscore/internal/scoring"
	"github.com/opensource-finance/fraudscore/internal/tracing"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logFile, err := setupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Log startup
	slog.Info("starting fraudscore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"model_store", cfg.Model.Store,
		"model_id", cfg.Model.ID,
		"dataset", cfg.Dataset.Driver,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Load the model artifact. Serving never starts without one.
	store, err := model.NewStore(cfg.Model)
	if err != nil {
		slog.Error("failed to initialize model store", "error", err)
		os.Exit(1)
	}
	artifact, err := model.Load(ctx, store, cfg.Model.ID)
	store.Close()
	if err != nil {
		var loadErr *domain.ArtifactLoadError
		if errors.As(err, &loadErr) {
			slog.Error("model artifact unavailable", "model_id", loadErr.ID, "error", loadErr.Err)
		} else {
			slog.Error("failed to load model artifact", "error", err)
		}
		os.Exit(1)
	}
	metrics.SetModel(artifact.ID(), artifact.DecisionPolicy(), len(artifact.FeatureNames()))

	// Initialize Dataset
	source, err := dataset.New(cfg.Dataset)
	if err != nil {
		slog.Error("failed to initialize dataset", "error", err)
		os.Exit(1)
	}
	defer source.Close()
	slog.Info("dataset initialized", "driver", cfg.Dataset.Driver)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	if strings.EqualFold(cfg.Logging.Level, "debug") {
		if _, err := busImpl.Subscribe(ctx, domain.TopicPredictionScored, logPrediction); err != nil {
			slog.Warn("failed to subscribe prediction logger", "error", err)
		}
	}

	// Initialize Scoring Service
	svc := scoring.NewService(artifact, busImpl)
	slog.Info("scoring service initialized",
		"model_id", artifact.ID(),
		"features", len(artifact.FeatureNames()),
		"trees", artifact.NumTrees(),
	)

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, source, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudscore is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, artifact, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("fraudscore shutdown complete")
}

// setupLogger installs the default slog logger. When a log file is
// configured, records go to both stdout and the file.
func setupLogger(cfg domain.LoggingConfig) (*os.File, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return file, nil
}

func logPrediction(ctx context.Context, msg *domain.Message) error {
	slog.Debug("prediction scored",
		"message_id", msg.ID,
		"request_id", msg.Metadata["request_id"],
		"payload", string(msg.Payload),
	)
	return nil
}

func printBanner(cfg *domain.Config, artifact *model.Artifact, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                FRAUDSCORE                 |")
	fmt.Println("  |   Fraud scoring and dashboard analytics   |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Model:    %s (%d features)\n", artifact.ID(), len(artifact.FeatureNames()))
	fmt.Printf("  Dataset:  %s\n", cfg.Dataset.Driver)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict                      - Score a transaction")
	fmt.Println("    POST /explain                      - Per-feature attribution")
	fmt.Println("    GET  /api/summary_statistics       - Dataset summary")
	fmt.Println("    GET  /api/fraud_trends             - Fraud cases per day")
	fmt.Println("    GET  /api/geolocation_analysis     - Fraud cases per country")
	fmt.Println("    GET  /api/fraud_by_device_browser  - Fraud cases per browser")
	fmt.Println("    GET  /model                        - Loaded model metadata")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println()
}
