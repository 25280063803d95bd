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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/reblock-audio-service/internal/config"
	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/metrics"
	"github.com/skypro1111/reblock-audio-service/internal/server"
	"github.com/skypro1111/reblock-audio-service/internal/shim"
	"github.com/skypro1111/reblock-audio-service/internal/stream"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (default $REBLOCK_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}
	path := config.ResolvePath(*configPath)

	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.ServiceVersion),
		slog.String("config_path", path),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Engine.SampleRate),
		slog.Int("quantum_size", cfg.Engine.QuantumSize),
		slog.Duration("render_interval", cfg.Engine.GetRenderInterval()),
		slog.Int("nodes", len(cfg.Nodes)),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("discovery_enabled", cfg.Discovery.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := host.NewEngine(host.Config{
		SampleRate:     cfg.Engine.SampleRate,
		QuantumSize:    cfg.Engine.QuantumSize,
		RenderInterval: cfg.Engine.GetRenderInterval(),
	}, logger)

	// Install already logged the failure
	s, err := shim.Install(ctx, engine, logger)
	if err != nil {
		os.Exit(1)
	}

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	sessionMgr := stream.NewManager(s, logger, appMetrics, cfg.Engine.GetMonitorInterval())

	for _, nc := range cfg.Nodes {
		spec, err := stream.BuildSpec(nc, cfg.Engine.SampleRate)
		if err != nil {
			logger.Error("Failed to build node", slog.String("node", nc.Name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if _, err := sessionMgr.CreateSession(spec); err != nil {
			logger.Error("Failed to create node", slog.String("node", nc.Name), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start render engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, engine, sessionMgr, appMetrics, prometheus.DefaultGatherer)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Advertisement failure leaves the service running
	var advertiser *server.Advertiser
	if cfg.HTTP.Enabled && cfg.Discovery.Enabled {
		advertiser, err = server.NewAdvertisement(cfg, logger)
		if err != nil {
			logger.Warn("mDNS advertisement unavailable", slog.String("error", err.Error()))
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.Int("active_nodes", sessionMgr.GetActiveSessionCount()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if advertiser != nil {
		advertiser.Stop()
	}

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Closes every node and flushes recordings
	sessionMgr.Stop()

	stats := engine.GetStats()
	engine.Close()

	logger.Info("Final engine statistics",
		slog.Uint64("quanta_rendered", stats.QuantaRendered),
		slog.Uint64("skipped_quanta", stats.SkippedQuanta),
		slog.Float64("current_time", stats.CurrentTime),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

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

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
