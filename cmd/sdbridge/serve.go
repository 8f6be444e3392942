package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/correlator-io/sdbridge/internal/api"
	"github.com/correlator-io/sdbridge/internal/api/middleware"
	"github.com/correlator-io/sdbridge/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	serverConfig := api.LoadServerConfig()
	logger := newLogger(serverConfig.LogLevel)

	logger.Info("Starting sdbridge service",
		slog.String("service", name),
		slog.String("version", Version),
		slog.String("commit", GitCommit),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Int("max_batch_size", serverConfig.MaxBatchSize),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	telemetryConfig := telemetry.LoadConfig()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig, name, Version)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.String("error", err.Error()))

		return err
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()

		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	if telemetryConfig.Endpoint != "" {
		logger.Info("Trace export enabled", slog.String("endpoint", telemetryConfig.Endpoint))
	}

	middlewareConfig := middleware.LoadConfig()

	// Closed by the server on shutdown.
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("anonymous_rps", middlewareConfig.AnonymousRPS),
		slog.Int("max_clients", middlewareConfig.MaxClients),
	)

	rt, err := newRuntime(logger)
	if err != nil {
		logger.Error("Failed to initialize bridge", slog.String("error", err.Error()))
		_ = rateLimiter.Close()

		return err
	}

	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server, err := api.NewServer(serverConfig, api.Dependencies{
		Detections:   rt.repo,
		Segments:     rt.segments,
		RateLimiter:  rateLimiter,
		HealthChecks: rt.checks,
		Version:      Version,
		Logger:       logger,
	})
	if err != nil {
		_ = rateLimiter.Close()

		return err
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("Server stopped with error", slog.String("error", err.Error()))

		return err
	}

	return nil
}
