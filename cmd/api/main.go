package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/donation-tracker/internal/api"
	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/dvloznov/donation-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/donation-tracker/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("DONATIONS_CONFIG"), "Path to a YAML config file (or set DONATIONS_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := logger.WithContext(context.Background(), log)

	for _, w := range cfg.Warnings() {
		log.Warn().Str("backend", cfg.Store.Backend).Msg(w)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.Reconciler.QueueBuffer,
		Workers:    cfg.Reconciler.Workers,
		MaxRetries: cfg.Reconciler.MaxRetries,
	}, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if cfg.Reconciler.Enabled {
		if err := jobQueue.Start(workerCtx, a.Ledger.HandleJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
		go a.Ledger.RunStaleSweep(workerCtx, jobQueue, cfg.Reconciler.PollInterval, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize)
	} else {
		log.Warn().Msg("Background reconciliation disabled")
	}

	handler := api.NewRouter(api.RouterDeps{
		Log:          log,
		Ledger:       a.Ledger,
		Jobs:         jobStore,
		JobPublisher: publisherFor(cfg.Reconciler.Enabled, jobQueue),
		Sandbox:      a.Sandbox,
		Metrics:      a.Metrics,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("store", cfg.Store.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// publisherFor exposes the queue to the API only when workers consume it. A nil
// publisher makes the enqueue endpoint answer 503.
func publisherFor(enabled bool, queue *inmemory.Queue) jobs.Publisher {
	if !enabled || queue == nil {
		return nil
	}
	return queue
}
