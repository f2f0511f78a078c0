package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cmdTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "donations",
		Short:        "Operator tools for the donation ledger",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("DONATIONS_CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 5*time.Minute, "Overall command timeout")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(syncNotionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is what every subcommand needs: a built app, a logger and a bounded context.
type session struct {
	app *app.App
	log zerolog.Logger
	ctx context.Context

	cancel context.CancelFunc
}

func openSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), cmdTimeout)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		cancel()
		return nil, err
	}

	return &session{app: a, log: log, ctx: ctx, cancel: cancel}, nil
}

func (s *session) Close() {
	if err := s.app.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close application")
	}
	s.cancel()
}
