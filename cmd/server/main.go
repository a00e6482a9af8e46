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

	"github.com/JonesHong/web-asr-core/internal/config"
	"github.com/JonesHong/web-asr-core/internal/engine/onnx"
	"github.com/JonesHong/web-asr-core/internal/metrics"
	"github.com/JonesHong/web-asr-core/internal/notify"
	"github.com/JonesHong/web-asr-core/internal/server"
	"github.com/JonesHong/web-asr-core/internal/stream"
	"github.com/JonesHong/web-asr-core/internal/vad"
	"github.com/JonesHong/web-asr-core/internal/wakeword"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "web-asr-core"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
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
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("vad_model_path", cfg.VAD.ModelPath),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.Bool("wakeword_enabled", cfg.Wakeword.Enabled),
		slog.String("notify_endpoint", cfg.Notify.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize ONNX Runtime
	if err := onnx.Initialize(cfg.Engine.SharedLibraryPath); err != nil {
		logger.Error("Failed to initialize ONNX Runtime", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("ONNX Runtime initialized",
		slog.String("shared_library", cfg.Engine.SharedLibraryPath),
	)

	// Load the VAD model and build the detection pipeline
	vadEngine, err := onnx.NewSession("vad", cfg.VAD.ModelPath)
	if err != nil {
		logger.Error("Failed to load VAD model", slog.String("error", err.Error()))
		os.Exit(1)
	}

	vadPipeline, err := vad.NewPipeline(vadEngine, vad.Params{
		WindowSize:     cfg.VAD.WindowSize,
		SampleRate:     cfg.Audio.SampleRate,
		Threshold:      cfg.VAD.Threshold,
		HangoverFrames: cfg.VAD.HangoverFrames,
	})
	if err != nil {
		logger.Error("Failed to create VAD pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("VAD pipeline initialized",
		slog.String("model_path", cfg.VAD.ModelPath),
		slog.Int("window_size", cfg.VAD.WindowSize),
	)

	// Load the wakeword model chain when enabled
	var wakewordPipeline *wakeword.Pipeline
	if cfg.Wakeword.Enabled {
		wakewordPipeline, err = buildWakewordPipeline(cfg, logger)
		if err != nil {
			logger.Error("Failed to create wakeword pipeline", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Initialize the webhook notifier when an endpoint is configured
	var notifier *notify.Client
	if cfg.Notify.Endpoint != "" {
		notifier, err = notify.NewClient(notify.Config{
			Endpoint:      cfg.Notify.Endpoint,
			APIKey:        cfg.Notify.APIKey,
			Timeout:       cfg.Notify.GetTimeoutDuration(),
			MaxRetries:    cfg.Notify.MaxRetries,
			MaxConcurrent: cfg.Notify.MaxConcurrent,
			RetryHook:     appMetrics.RecordNotifyRetry,
		})
		if err != nil {
			logger.Error("Failed to create notify client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Notify client initialized",
			slog.String("endpoint", cfg.Notify.Endpoint),
			slog.Int("max_retries", cfg.Notify.MaxRetries),
		)
	}

	// Initialize session manager
	sessionMgr, err := stream.NewManager(logger, stream.ManagerConfig{
		SessionTimeout:   cfg.Audio.GetSessionTimeoutDuration(),
		SampleRate:       cfg.Audio.SampleRate,
		RingCapacity:     cfg.Audio.RingSamples(),
		SnapshotDuration: cfg.Audio.GetSnapshotDuration(),
		DrainInterval:    cfg.Audio.GetDrainInterval(),
	}, vadPipeline, wakewordPipeline, notifier, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Audio.GetSessionTimeoutDuration()),
		slog.Int("ring_samples", cfg.Audio.RingSamples()),
	)

	// WebSocket hub feeds connected monitoring clients
	eventHub := server.NewEventHub(logger)
	sessionMgr.SetEventSink(eventHub)

	// Initialize UDP server
	udpServer := server.NewUDPServer(&cfg.Server, logger, sessionMgr, appMetrics)
	logger.Info("UDP server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, udpServer, appMetrics, eventHub)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start UDP server
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop UDP server (stop accepting new packets)
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Stop session manager (cleanup sessions and stop background routines)
	sessionMgr.Stop()

	// Get final statistics
	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("active_sessions", stats.ActiveSessions),
	)

	logger.Info("Service stopped")
}

// buildWakewordPipeline loads the three wakeword models and discovers the
// classifier input dimensions before assembling the pipeline.
func buildWakewordPipeline(cfg *config.Config, logger *slog.Logger) (*wakeword.Pipeline, error) {
	melspec, err := onnx.NewSession("melspectrogram", cfg.Wakeword.MelspecModelPath)
	if err != nil {
		return nil, fmt.Errorf("melspectrogram model: %w", err)
	}

	embedder, err := onnx.NewSession("embedding", cfg.Wakeword.EmbeddingModelPath)
	if err != nil {
		return nil, fmt.Errorf("embedding model: %w", err)
	}

	classifier, err := onnx.NewSession("classifier", cfg.Wakeword.ClassifierModelPath)
	if err != nil {
		return nil, fmt.Errorf("classifier model: %w", err)
	}

	fallback := wakeword.ModelDims{
		EmbeddingFrames: cfg.Wakeword.EmbeddingFrames,
		EmbeddingDim:    cfg.Wakeword.EmbeddingDim,
	}
	dims, source, err := wakeword.ProbeDims(embedder, classifier, fallback)
	if err != nil {
		return nil, fmt.Errorf("classifier dimensions: %w", err)
	}
	logger.Info("Classifier dimensions resolved",
		slog.Int("embedding_frames", dims.EmbeddingFrames),
		slog.Int("embedding_dim", dims.EmbeddingDim),
		slog.String("source", source),
	)

	pipeline, err := wakeword.NewPipeline(melspec, embedder, classifier, wakeword.Params{
		WindowSize: cfg.Wakeword.ChunkSize,
		Threshold:  cfg.Wakeword.Threshold,
		Dims:       dims,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Wakeword pipeline initialized",
		slog.String("classifier_model", cfg.Wakeword.ClassifierModelPath),
		slog.Float64("threshold", float64(cfg.Wakeword.Threshold)),
	)

	return pipeline, nil
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
