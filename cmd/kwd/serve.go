package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/config"
	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
	"github.com/cvejlbo/avs-device-sdk/internal/notify"
	"github.com/cvejlbo/avs-device-sdk/internal/server"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detector service",
		Long: `Start the shared audio stream, its configured source, the keyword
detector and the HTTP API. Runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// runServe wires every component together and blocks until shutdown
func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()

	logger.Info("Service starting", slog.String("config_path", cfgFile))

	logger.Info("Configuration loaded",
		slog.String("pipe_path", cfg.Detector.PipePath),
		slog.String("keyword", cfg.Detector.Keyword),
		slog.String("source", cfg.Source.Type),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("buffer_seconds", cfg.Audio.BufferSeconds),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("webhook_enabled", cfg.Webhook.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Private registry so /metrics carries only this service plus runtime collectors
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)

	format := cfg.Audio.Format()
	stream, err := audio.NewStreamForDuration(format, cfg.Audio.GetBufferDuration(), cfg.Audio.MaxReaders)
	if err != nil {
		return fmt.Errorf("failed to create audio stream: %w", err)
	}
	writer, err := stream.NewWriter()
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}
	logger.Info("Audio stream initialized",
		slog.String("format", format.String()),
		slog.Int("capacity_samples", stream.Capacity()),
		slog.Int("max_readers", cfg.Audio.MaxReaders),
	)

	hub := notify.NewHub(cfg.HTTP.RecentEvents, logger.With(slog.String("component", "hub")), appMetrics)
	defer hub.Close()

	keyWordObservers := []kwd.KeyWordObserver{hub}
	stateObservers := []kwd.StateObserver{hub}

	var webhook *notify.Webhook
	if cfg.Webhook.Enabled {
		webhook, err = notify.NewWebhook(notify.WebhookConfig{
			URL:           cfg.Webhook.URL,
			Secret:        cfg.Webhook.Secret,
			Timeout:       cfg.Webhook.GetTimeoutDuration(),
			MaxRetries:    cfg.Webhook.MaxRetries,
			MaxConcurrent: cfg.Webhook.MaxConcurrent,
			QueueSize:     cfg.Webhook.QueueSize,
			IncludeState:  cfg.Webhook.IncludeState,
		}, logger.With(slog.String("component", "webhook")), appMetrics)
		if err != nil {
			return fmt.Errorf("failed to create webhook: %w", err)
		}
		keyWordObservers = append(keyWordObservers, webhook)
		stateObservers = append(stateObservers, webhook)
		logger.Info("Webhook forwarder initialized",
			slog.String("url", cfg.Webhook.URL),
			slog.Bool("signed", cfg.Webhook.Secret != ""),
		)
	}

	detector, err := kwd.Create(stream, format, keyWordObservers, stateObservers, kwd.Config{
		PipePath:             cfg.Detector.PipePath,
		Keyword:              cfg.Detector.Keyword,
		AckSize:              cfg.Detector.AckSize,
		ReadTimeout:          cfg.Detector.GetReadTimeoutDuration(),
		ScratchSamples:       cfg.Detector.ScratchSamples,
		NotifyInactiveOnStop: cfg.Detector.NotifyInactiveOnStop,
		Logger:               logger,
		Metrics:              appMetrics,
	})
	if err != nil {
		closeWebhook(webhook, logger)
		return fmt.Errorf("failed to create detector: %w", err)
	}

	// Audio source
	var udpServer *server.UDPServer
	var fileSource *audio.FileSource
	sourceCtx, stopSource := context.WithCancel(ctx)
	defer stopSource()

	switch cfg.Source.Type {
	case config.SourceUDP:
		udpServer = server.NewUDPServer(&cfg.Server, writer, logger.With(slog.String("component", "udp")), appMetrics)
		if err := udpServer.Start(); err != nil {
			detector.Close()
			closeWebhook(webhook, logger)
			return fmt.Errorf("failed to start UDP server: %w", err)
		}
	case config.SourceWAV:
		fileSource, err = audio.NewFileSource(cfg.Source.WAVPath, format, cfg.Source.Loop, logger.With(slog.String("component", "wav")))
		if err != nil {
			detector.Close()
			closeWebhook(webhook, logger)
			return fmt.Errorf("failed to open WAV source: %w", err)
		}
		go func() {
			if err := fileSource.Run(sourceCtx, writer); err != nil {
				logger.Error("WAV source failed", slog.String("error", err.Error()))
			}
		}()
	case config.SourceNone:
		logger.Info("No audio source configured, stream stays silent")
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(&cfg.HTTP, logger.With(slog.String("component", "http")), server.Components{
			Config:   cfg,
			Detector: detector,
			Stream:   stream,
			Hub:      hub,
			UDP:      udpServer,
			Webhook:  webhook,
			Gatherer: reg,
			Metrics:  appMetrics,
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	case <-detector.Done():
		runErr = errors.New("detection loop exited unexpectedly")
		logger.Error("Detection loop exited, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop producers, then mark the end of data
	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
	}
	stopSource()
	if fileSource != nil {
		<-fileSource.Done()
	}
	writer.Close()

	if err := detector.Close(); err != nil {
		logger.Error("Error closing detector", slog.String("error", err.Error()))
	}

	// Observers go last so the final INACTIVE reaches them
	if webhook != nil {
		if err := webhook.Close(shutdownCtx); err != nil {
			logger.Warn("Webhook queue not drained", slog.String("error", err.Error()))
		}
	}

	stats := detector.Stats()
	logger.Info("Final detector statistics",
		slog.Uint64("detections", stats.Detections),
		slog.Uint64("samples_drained", stats.SamplesDrained),
		slog.Uint64("overruns", stats.Overruns),
		slog.Uint64("read_errors", stats.ReadErrors),
	)

	logger.Info("Service stopped")
	return runErr
}

func closeWebhook(w *notify.Webhook, logger *slog.Logger) {
	if w == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		logger.Warn("Webhook queue not drained", slog.String("error", err.Error()))
	}
}
