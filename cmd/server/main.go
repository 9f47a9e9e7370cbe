// Package main is the entry point for greekwatch, the options Greeks risk
// monitor. It aggregates per-position Greeks into account and strategy dollar
// risk on a schedule, persists snapshots, raises threshold and rate-of-change
// alerts, and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/di"
	greekshandlers "github.com/aristath/greekwatch/internal/modules/greeks/handlers"
	"github.com/aristath/greekwatch/internal/server"
	"github.com/aristath/greekwatch/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires databases, services and jobs via the DI container
// 4. Starts the HTTP server and the job scheduler
// 5. Waits for a shutdown signal and stops everything gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting greekwatch")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Databases must be closed so WAL checkpoints are written
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Databases: container.Databases(),
		EventBus:  container.EventBus,
		Greeks:    greekshandlers.NewHandler(container.Repository, container.EventManager, log),
		Metrics:   container.Metrics.Handler(),
		Jobs:      container.Jobs.All(),
		Runner:    container.Scheduler,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()

	// Run one cycle right away rather than waiting for the first tick
	go func() {
		if err := container.Scheduler.RunNow(container.Jobs.GreeksMonitor); err != nil {
			log.Error().Err(err).Msg("Initial monitor cycle failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Waits for running jobs to finish
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
