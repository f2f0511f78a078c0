package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/rs/zerolog"
)

var (
	configPath = flag.String("config", os.Getenv("DONATIONS_CONFIG"), "Path to a YAML config file (or set DONATIONS_CONFIG env)")
	backend    = flag.String("backend", "", "Store backend to provision (defaults to store.backend from config)")
	timeout    = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid backend: %v\n", err)
			os.Exit(1)
		}
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), *timeout)
	defer cancel()

	for _, w := range cfg.Warnings() {
		log.Warn().Str("backend", cfg.Store.Backend).Msg(w)
	}

	a := app.NewForStore(cfg)
	defer a.Close()

	st, err := a.OpenStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open store")
	}

	if err := provision(ctx, log, cfg.Store.Backend, st); err != nil {
		log.Fatal().Err(err).Msg("Provisioning failed")
	}
}

// provision runs the backend's schema and index setup, if it has any.
func provision(ctx context.Context, log zerolog.Logger, backend string, st store.TransactionStore) error {
	p, ok := st.(store.Provisioner)
	if !ok {
		log.Info().Str("backend", backend).Msg("Backend needs no provisioning")
		return nil
	}

	start := time.Now()
	if err := p.Provision(ctx); err != nil {
		return fmt.Errorf("provision %s: %w", backend, err)
	}

	log.Info().
		Str("backend", backend).
		Dur("duration", time.Since(start)).
		Msg("Store provisioned")
	return nil
}
