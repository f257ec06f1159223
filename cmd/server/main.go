package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/magicxor/faster-whisper-server/internal/config"
	"github.com/magicxor/faster-whisper-server/internal/metrics"
	"github.com/magicxor/faster-whisper-server/internal/registry"
	"github.com/magicxor/faster-whisper-server/internal/server"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "faster-whisper-server"
	serviceVersion    = "1.0.0"
)

func main() {
	// Load .env if present; env vars override config file secrets
	_ = godotenv.Load()

	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if key := os.Getenv("ENGINE_API_KEY"); key != "" {
		cfg.Engine.APIKey = key
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.String("default_model", cfg.Whisper.Model),
		slog.Int("max_models", cfg.Whisper.MaxModels),
		slog.String("engine_endpoint", cfg.Engine.Endpoint),
		slog.Float64("max_no_data_seconds", cfg.Streaming.MaxNoDataSeconds),
		slog.Float64("inactivity_window_seconds", cfg.Streaming.InactivityWindowSeconds),
		slog.Float64("max_inactivity_seconds", cfg.Streaming.MaxInactivitySeconds),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the inference engine client
	engine, err := whisper.NewEngine(whisper.EngineConfig{
		Endpoint:        cfg.Engine.Endpoint,
		APIKey:          cfg.Engine.APIKey,
		Timeout:         cfg.Engine.GetTimeoutDuration(),
		MaxConcurrent:   cfg.Engine.MaxConcurrent,
		InferenceDevice: cfg.Whisper.InferenceDevice,
		ComputeType:     cfg.Whisper.ComputeType,
		SampleRate:      config.SamplesPerSecond,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create inference engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Inference engine client initialized",
		slog.String("endpoint", cfg.Engine.Endpoint),
		slog.Int("max_concurrent", cfg.Engine.MaxConcurrent),
	)

	// Initialize the shared model cache
	cache := whisper.NewModelCache(cfg.Whisper.MaxModels, engine.Loader(), logger, appMetrics)
	logger.Info("Model cache initialized", slog.Int("max_models", cfg.Whisper.MaxModels))

	// Initialize the model hub client
	hub := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.GetTimeoutDuration(), logger)
	logger.Info("Model hub client initialized", slog.String("base_url", cfg.Registry.BaseURL))

	// Initialize and start the API server
	apiServer := server.New(cfg, logger, cache, engine, hub, appMetrics)
	if err := apiServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Final engine statistics
	stats := engine.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
