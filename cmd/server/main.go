package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/diarize"
	"github.com/briefroom/scribe-gateway/internal/observability"
	"github.com/briefroom/scribe-gateway/internal/orchestrator"
	"github.com/briefroom/scribe-gateway/internal/session"
	"github.com/briefroom/scribe-gateway/internal/stt"
	"github.com/briefroom/scribe-gateway/internal/summarize"
	"github.com/briefroom/scribe-gateway/internal/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_engine", cfg.STTEngine).
		Str("provider_order", cfg.ProviderOrder).
		Int("workers", cfg.WorkerPoolSize).
		Int("queue_capacity", cfg.QueueCapacity).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Scribe Gateway Service starting")

	// Build the transcription engine for the configured backend
	engine, err := stt.NewEngine(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transcription engine")
	}

	// Speaker labeling is optional; nil means transcripts stay unlabeled
	labeler := diarize.FromConfig(cfg)
	if labeler != nil {
		logger.Info().Str("diarizer_url", cfg.DiarizerURL).Msg("Speaker labeling enabled")
	}

	// Assemble the summarization failover chain
	registry := summarize.NewRegistry(cfg)
	if len(registry.Providers()) == 0 {
		logger.Warn().Msg("No summarization providers configured; every job will fail summarization")
	}

	// Post-meeting hooks (Slack, audit log)
	dispatchers := workflow.FromConfig(cfg)
	for _, d := range dispatchers {
		logger.Info().Str("dispatcher", d.Name()).Msg("Workflow dispatcher enabled")
	}

	// Start the inference worker pool
	orch := orchestrator.New(cfg, engine, labeler, registry, dispatchers...)
	orch.Start()

	// Create HTTP server
	mux := http.NewServeMux()

	// Register transcription WebSocket handler
	mux.HandleFunc("/ws/transcribe", session.HandleWS(cfg, orch))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - create health check functions here to avoid import cycles
	engineCheck := func(ctx context.Context) (bool, error) {
		// Constructing an engine validates its configuration; no live API
		// call here to avoid costs
		probe, err := stt.NewEngine(cfg)
		if err != nil {
			return false, err
		}
		_ = probe.Close()
		return true, nil
	}

	providerCheck := func(ctx context.Context) (bool, error) {
		if len(registry.Providers()) == 0 {
			return false, fmt.Errorf("no summarization providers configured")
		}
		return true, nil
	}

	queueCheck := func(ctx context.Context) (bool, error) {
		depth := orch.QueueDepth()
		if cfg.QueueCapacity > 0 && depth >= cfg.QueueCapacity {
			return false, fmt.Errorf("inference queue saturated (%d/%d)", depth, cfg.QueueCapacity)
		}
		return true, nil
	}

	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"stt_engine":  engineCheck,
		"summarizers": providerCheck,
		"queue":       queueCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/transcribe", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight jobs finish before the workers stop
	if err := orch.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Orchestrator did not drain in time")
	}

	if err := engine.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing transcription engine")
	}

	logger.Info().Msg("Server exited gracefully")
}
