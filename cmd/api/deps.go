package main

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"flowly/internal/domain/account"
	"flowly/internal/domain/banksync"
	"flowly/internal/infrastructure/aggregator"
	"flowly/internal/infrastructure/crypto"
	"flowly/internal/infrastructure/postgres"
	"flowly/internal/infrastructure/postgres/listener"
	httphandlers "flowly/internal/interfaces/http"
	"flowly/internal/interfaces/scheduler"
	"flowly/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	HealthHandler  *httphandlers.HealthHandler
	SyncHandler    *httphandlers.SyncHandler
	LinkHandler    *httphandlers.LinkHandler
	AccountHandler *httphandlers.AccountHandler

	// Background work
	SyncService *banksync.Service
	Scheduler   *scheduler.Scheduler
	WorkerPool  *scheduler.WorkerPool
	Listener    *listener.ConnectionListener

	aggregator func() (aggregator.Client, error)
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("database pool opened")

	deps := &Dependencies{DB: db}
	deps.aggregator = sync.OnceValues(func() (aggregator.Client, error) {
		return newAggregatorClient(cfg, logger)
	})

	client, err := deps.aggregator()
	if err != nil {
		db.Close()
		return nil, err
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Repositories
	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	accountRepo := postgres.NewAccountRepository(db)
	tombstoneRepo := postgres.NewTombstoneRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	categoryRepo := postgres.NewCategoryRepository(db)

	// Domain services
	accountService := account.NewService(accountRepo, tombstoneRepo)
	accountSync := banksync.NewAccountSyncService(client, accountRepo, tombstoneRepo, logger.With().Str("component", "account_sync").Logger())
	transactionSync := banksync.NewTransactionSyncService(client, accountRepo, transactionRepo, categoryRepo, cfg.Sync.LookbackDays, logger.With().Str("component", "transaction_sync").Logger())
	syncService := banksync.NewService(connectionRepo, accountSync, transactionSync, banksync.Options{
		Workers:           cfg.Sync.Workers,
		ConnectionTimeout: cfg.Sync.ConnectionTimeout,
	}, logger.With().Str("component", "sync").Logger())
	linker := banksync.NewLinker(client, connectionRepo, logger.With().Str("component", "linker").Logger())

	// Scheduling
	sched, err := scheduler.NewScheduler(scheduler.Config{
		Enabled:       cfg.Sync.Enabled,
		Interval:      cfg.Sync.Interval,
		ScheduleTimes: cfg.Sync.ScheduleTimes,
		ReadyRetries:  cfg.Sync.ReadyRetries,
		ReadyDelay:    cfg.Sync.ReadyDelay,
	}, db, syncService, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	pool := scheduler.NewWorkerPool(scheduler.PoolConfig{
		Workers:    cfg.Sync.Workers,
		JobDelay:   cfg.Sync.JobDelay,
		JobTimeout: cfg.Sync.ConnectionTimeout,
		QueueSize:  cfg.Sync.QueueSize,
	}, logger)

	listenerLogger := logger.With().Str("component", "link_listener").Logger()
	linkListener := listener.NewConnectionListener(cfg.Database.ConnectionString(), postgres.LinkedChannel, func(connectionID string) {
		if err := pool.Submit(scheduler.NewConnectionSyncJob(connectionID, syncService)); err != nil {
			listenerLogger.Warn().Err(err).Str("connection_id", connectionID).Msg("could not queue sync for linked connection")
		}
	}, logger)

	deps.HealthHandler = httphandlers.NewHealthHandler(db, sched)
	deps.SyncHandler = httphandlers.NewSyncHandler(syncService, sched)
	deps.LinkHandler = httphandlers.NewLinkHandler(linker)
	deps.AccountHandler = httphandlers.NewAccountHandler(accountService)
	deps.SyncService = syncService
	deps.Scheduler = sched
	deps.WorkerPool = pool
	deps.Listener = linkListener

	return deps, nil
}

// newAggregatorClient picks the real provider client, or the sandbox client
// when no provider credentials are configured outside production.
func newAggregatorClient(cfg *config.Config, logger zerolog.Logger) (aggregator.Client, error) {
	if cfg.Aggregator.UseMemoryClient(cfg.Environment) {
		logger.Warn().Msg("aggregator credentials not set, running against the sandbox client")
		return aggregator.NewSandboxClient(), nil
	}

	client, err := aggregator.NewHTTPClient(aggregator.HTTPConfig{
		ClientID:     cfg.Aggregator.ClientID,
		Secret:       cfg.Aggregator.Secret,
		Environment:  cfg.Aggregator.Environment,
		Timeout:      cfg.Aggregator.Timeout,
		RateLimit:    cfg.Aggregator.RateLimit,
		CountryCodes: cfg.Aggregator.CountryCodes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator client: %w", err)
	}
	logger.Info().Str("environment", cfg.Aggregator.Environment).Msg("aggregator client ready")
	return client, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
