package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/donation-tracker/internal/logger"
)

// The worker runs the stale-transaction reconciler without the HTTP surface. It only
// makes sense against a shared store; with the memory store it sees nothing the API wrote.
func main() {
	configPath := flag.String("config", os.Getenv("DONATIONS_CONFIG"), "Path to a YAML config file (or set DONATIONS_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	if cfg.Store.Backend == "memory" {
		log.Warn().Msg("Worker is using the in-memory store; it will not see records written by other processes")
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	defer a.Close()

	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.Reconciler.QueueBuffer,
		Workers:    cfg.Reconciler.Workers,
		MaxRetries: cfg.Reconciler.MaxRetries,
	}, inmemory.NewStore())

	log.Info().Msg("Starting worker service")

	if err := jobQueue.Start(ctx, a.Ledger.HandleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	go a.Ledger.RunStaleSweep(ctx, jobQueue, cfg.Reconciler.PollInterval, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize)

	log.Info().Msg("Worker service started, waiting for stale transactions...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
