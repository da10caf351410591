// Package main provides the entry point for the Lip2Sync API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/lip2sync-api/internal/bootstrap"
	"github.com/maauso/lip2sync-api/internal/config"
	"github.com/maauso/lip2sync-api/internal/server"
)

// writeSlack is added to PROCESS_TIMEOUT so a run that hits its deadline can
// still send the error response.
const writeSlack = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting Lip2Sync API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("workspace", cfg.Workspace),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Duration("process_timeout", cfg.ProcessTimeout),
		slog.Duration("retention_period", cfg.RetentionPeriod),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	deps.Sweeper.Start()

	// Responses stream only after the pipeline finishes. The handlers restart
	// this deadline when a queued job gets its slot.
	var writeTimeout time.Duration
	if cfg.ProcessTimeout > 0 {
		writeTimeout = cfg.ProcessTimeout + writeSlack
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Service, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
		server.WithWriteTimeout(writeTimeout),
	)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute, // Large uploads
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.Sweeper.Stop(ctx); err != nil {
		logger.Warn("retention sweeper did not stop cleanly", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}
