package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"flowly/internal/domain/account"
	"flowly/internal/domain/banksync"
	"flowly/internal/infrastructure/aggregator"
	"flowly/internal/infrastructure/crypto"
	"flowly/internal/infrastructure/postgres"
	"flowly/internal/shared/config"
	"flowly/internal/shared/logger"
)

// app bundles what the admin commands operate on.
type app struct {
	db         *postgres.DB
	sync       *banksync.Service
	accounts   *account.Service
	categories *postgres.CategoryRepository
	out        io.Writer
	log        zerolog.Logger
	closer     func() error
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

type appFactory func(cmd *cobra.Command) (*app, error)

// openApp builds the app from the environment, the same way the API server does.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	var client aggregator.Client
	if cfg.Aggregator.UseMemoryClient(cfg.Environment) {
		log.Warn().Msg("aggregator credentials not set, using the sandbox client")
		client = aggregator.NewSandboxClient()
	} else {
		client, err = aggregator.NewHTTPClient(aggregator.HTTPConfig{
			ClientID:     cfg.Aggregator.ClientID,
			Secret:       cfg.Aggregator.Secret,
			Environment:  cfg.Aggregator.Environment,
			Timeout:      cfg.Aggregator.Timeout,
			RateLimit:    cfg.Aggregator.RateLimit,
			CountryCodes: cfg.Aggregator.CountryCodes,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create aggregator client: %w", err)
		}
	}

	a := newApp(db, client, encryptor, banksync.Options{
		Workers:           cfg.Sync.Workers,
		ConnectionTimeout: cfg.Sync.ConnectionTimeout,
	}, cfg.Sync.LookbackDays, cmd.OutOrStdout(), log)
	a.closer = db.Close
	return a, nil
}

func newApp(db *postgres.DB, client aggregator.Client, cipher postgres.Cipher, opts banksync.Options, lookbackDays int, out io.Writer, log zerolog.Logger) *app {
	connectionRepo := postgres.NewConnectionRepository(db, cipher)
	accountRepo := postgres.NewAccountRepository(db)
	tombstoneRepo := postgres.NewTombstoneRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	categoryRepo := postgres.NewCategoryRepository(db)

	accountSync := banksync.NewAccountSyncService(client, accountRepo, tombstoneRepo, log)
	transactionSync := banksync.NewTransactionSyncService(client, accountRepo, transactionRepo, categoryRepo, lookbackDays, log)

	return &app{
		db:         db,
		sync:       banksync.NewService(connectionRepo, accountSync, transactionSync, opts, log),
		accounts:   account.NewService(accountRepo, tombstoneRepo),
		categories: categoryRepo,
		out:        out,
		log:        log,
	}
}
