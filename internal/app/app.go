// Package app builds the ledger and its backends from configuration. Every command
// shares it so that they agree on how a backend is opened.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/events"
	"github.com/dvloznov/donation-tracker/internal/ledger"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"github.com/dvloznov/donation-tracker/internal/provider"
	"github.com/dvloznov/donation-tracker/internal/provider/sandbox"
	"github.com/dvloznov/donation-tracker/internal/store"
	bqstore "github.com/dvloznov/donation-tracker/internal/store/bigquery"
	"github.com/dvloznov/donation-tracker/internal/store/memory"
	mongostore "github.com/dvloznov/donation-tracker/internal/store/mongo"
	"github.com/dvloznov/donation-tracker/internal/store/postgres"
	"github.com/dvloznov/donation-tracker/internal/users"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

// App holds the wired collaborators. Close releases every connection Build opened.
type App struct {
	Config    config.Config
	Store     store.TransactionStore
	Users     users.Directory
	Providers *provider.Registry
	Sandbox   *sandbox.Adapter
	Events    events.Publisher
	Archive   archive.Archive
	Metrics   *metrics.Metrics
	Ledger    *ledger.Service

	mongo   *mongo.Client
	closers []func() error
}

// Build opens every backend cfg selects and assembles the ledger.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.NewDefault()}

	steps := []struct {
		name string
		fn   func(context.Context, zerolog.Logger) error
	}{
		{"store", a.openStore},
		{"users", a.openUsers},
		{"providers", a.openProviders},
		{"events", a.openEvents},
		{"archive", a.openArchive},
	}
	for _, step := range steps {
		if err := step.fn(ctx, log); err != nil {
			a.Close()
			return nil, fmt.Errorf("Build: %s: %w", step.name, err)
		}
	}

	a.Ledger = ledger.New(ledger.Deps{
		Store:     a.Store,
		Providers: a.Providers,
		Users:     a.Users,
		Events:    a.Events,
		Archive:   a.Archive,
		Metrics:   a.Metrics,
	}, ledger.Config{ProviderTimeout: cfg.Providers.Timeout})

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// mongoClient dials once and shares the client between the store and the directory.
func (a *App) mongoClient(ctx context.Context) (*mongo.Client, error) {
	if a.mongo != nil {
		return a.mongo, nil
	}
	client, err := mongostore.Connect(ctx, a.Config.Store.Mongo.URI)
	if err != nil {
		return nil, err
	}
	a.mongo = client
	a.onClose(func() error { return client.Disconnect(context.Background()) })
	return client, nil
}

func (a *App) openStore(ctx context.Context, log zerolog.Logger) error {
	st, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	a.Store = st
	log.Info().Str("backend", a.Config.Store.Backend).Msg("Transaction store ready")
	return nil
}

// OpenStore opens the configured transaction store without building the rest of the app.
func (a *App) OpenStore(ctx context.Context) (store.TransactionStore, error) {
	cfg := a.Config.Store

	switch cfg.Backend {
	case "memory":
		return memory.NewStore(), nil

	case "mongo":
		client, err := a.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		return mongostore.New(client.Database(cfg.Mongo.Database)), nil

	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		return postgres.New(db), nil

	case "bigquery":
		st, err := bqstore.New(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, err
		}
		a.onClose(st.Close)
		return st, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func (a *App) openUsers(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config.Users

	switch cfg.Backend {
	case "mongo":
		client, err := a.mongoClient(ctx)
		if err != nil {
			return err
		}
		a.Users = users.NewMongoDirectory(client.Database(a.Config.Store.Mongo.Database))
	default:
		seed := make([]domain.User, 0, len(cfg.Seed))
		for _, u := range cfg.Seed {
			seed = append(seed, domain.User{ID: u.ID, Phone: u.Phone, Roles: u.Roles})
		}
		a.Users = users.NewMemoryDirectory(seed...)
		log.Info().Int("seeded", len(seed)).Msg("Using in-memory user directory")
	}
	return nil
}

func (a *App) openProviders(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config.Providers
	a.Providers = provider.NewRegistry()

	if cfg.Sandbox.Enabled {
		a.Sandbox = sandbox.New(cfg.Sandbox.Name, cfg.Sandbox.Secret)
		a.Providers.Register(a.Sandbox)
		log.Warn().Str("provider", a.Sandbox.Name()).Msg("Sandbox payment provider enabled")
	}

	if cfg.PreferredReceiving != "" {
		if err := a.Providers.SetPreferredForReceiving(cfg.PreferredReceiving); err != nil {
			return err
		}
	}
	if cfg.PreferredSending != "" {
		if err := a.Providers.SetPreferredForSending(cfg.PreferredSending); err != nil {
			return err
		}
	}

	if len(a.Providers.Names()) == 0 {
		log.Warn().Msg("No payment providers registered")
	}
	return nil
}

func (a *App) openEvents(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config.Events

	if cfg.Backend != "rabbitmq" {
		a.Events = events.NewLogPublisher()
		return nil
	}

	broker := events.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err := broker.Connect(cfg.RabbitMQ.Exchange); err != nil {
		return err
	}
	a.onClose(func() error {
		broker.Close()
		return nil
	})

	a.Events = events.NewRabbitMQPublisher(broker.Channel, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
	log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("Publishing settlement events to RabbitMQ")
	return nil
}

func (a *App) openArchive(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config.Archive

	if cfg.Bucket == "" {
		a.Archive = archive.Nop{}
		return nil
	}

	gcs, err := archive.NewGCS(ctx, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return err
	}
	a.onClose(gcs.Close)
	a.Archive = gcs
	log.Info().Str("bucket", cfg.Bucket).Msg("Archiving provider notifications")
	return nil
}

// NewForStore returns an App that only carries cfg, for commands that need a store
// and nothing else.
func NewForStore(cfg config.Config) *App {
	return &App{Config: cfg}
}
