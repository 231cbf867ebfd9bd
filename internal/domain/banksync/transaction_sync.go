package banksync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"flowly/internal/domain/account"
	"flowly/internal/domain/connection"
	"flowly/internal/domain/transaction"
	"flowly/internal/infrastructure/aggregator"
)

// PageSize is the number of transactions requested per page. A shorter page
// ends the fetch.
const PageSize = 100

// DefaultLookbackDays is the trailing window synced when none is configured.
const DefaultLookbackDays = 90

// TransactionSyncResult contains the results of a transaction sync operation
type TransactionSyncResult struct {
	ConnectionID      string   `json:"connectionId"`
	TransactionsFound int      `json:"transactionsFound"`
	Created           int      `json:"created"`
	Updated           int      `json:"updated"`
	Skipped           int      `json:"skipped"` // no local account under this connection
	Pages             int      `json:"pages"`
	Errors            []string `json:"errors"`
}

// Synced is the number of transactions created or updated.
func (r *TransactionSyncResult) Synced() int {
	return r.Created + r.Updated
}

// Window bounds the transaction dates to fetch, both ends inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// TransactionSyncService handles syncing transactions from the aggregator
type TransactionSyncService struct {
	client       aggregator.Client
	accounts     account.Repository
	transactions transaction.Repository
	categories   transaction.CategoryRepository
	lookbackDays int
	logger       zerolog.Logger
	now          func() time.Time
}

// NewTransactionSyncService creates a new transaction sync service.
// lookbackDays <= 0 selects DefaultLookbackDays.
func NewTransactionSyncService(
	client aggregator.Client,
	accounts account.Repository,
	transactions transaction.Repository,
	categories transaction.CategoryRepository,
	lookbackDays int,
	logger zerolog.Logger,
) *TransactionSyncService {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &TransactionSyncService{
		client:       client,
		accounts:     accounts,
		transactions: transactions,
		categories:   categories,
		lookbackDays: lookbackDays,
		logger:       logger,
		now:          time.Now,
	}
}

// DefaultWindow returns the trailing lookback window ending now.
func (s *TransactionSyncService) DefaultWindow() Window {
	end := s.now().UTC()
	return Window{Start: end.AddDate(0, 0, -s.lookbackDays), End: end}
}

// accountCache resolves external account ids to local accounts under one
// connection, remembering misses for the rest of the run.
type accountCache struct {
	repo         account.Repository
	connectionID string
	byExternalID map[string]*account.Account
	missing      map[string]struct{}
}

func (c *accountCache) get(ctx context.Context, externalID string) (*account.Account, error) {
	if acc, ok := c.byExternalID[externalID]; ok {
		return acc, nil
	}
	if _, ok := c.missing[externalID]; ok {
		return nil, nil
	}

	// Try storage in case the cache is stale
	acc, err := c.repo.GetByExternalID(ctx, c.connectionID, externalID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		c.missing[externalID] = struct{}{}
		return nil, nil
	}
	c.byExternalID[externalID] = acc
	return acc, nil
}

// SyncConnectionTransactions pages through the connection's transactions and
// upserts each one. A nil window selects DefaultWindow. A page fetch failure
// stops the run and returns the partial result together with the error.
func (s *TransactionSyncService) SyncConnectionTransactions(ctx context.Context, conn *connection.Connection, window *Window) (*TransactionSyncResult, error) {
	result := &TransactionSyncResult{
		ConnectionID: conn.ID,
		Errors:       []string{},
	}
	logger := s.logger.With().Str("connection_id", conn.ID).Str("user_id", conn.UserID).Logger()

	w := s.DefaultWindow()
	if window != nil {
		w = *window
	}

	categoryMap, err := s.categories.Map(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load category map: %w", err)
	}

	local, err := s.accounts.ListByConnectionID(ctx, conn.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list connection accounts: %w", err)
	}
	cache := &accountCache{
		repo:         s.accounts,
		connectionID: conn.ID,
		byExternalID: make(map[string]*account.Account, len(local)),
		missing:      make(map[string]struct{}),
	}
	for _, acc := range local {
		cache.byExternalID[acc.ExternalID] = acc
	}

	syncedAt := s.now().UTC()

	for offset := 0; ; {
		page, err := s.client.ListTransactions(ctx, conn.Credential, aggregator.TransactionQuery{
			StartDate: w.Start,
			EndDate:   w.End,
			Count:     PageSize,
			Offset:    offset,
		})
		if err != nil {
			logger.Error().Err(err).Int("offset", offset).Msg("transaction page fetch failed")
			return result, fmt.Errorf("failed to fetch transactions at offset %d: %w", offset, err)
		}
		result.Pages++
		result.TransactionsFound += len(page)

		for i := range page {
			if err := s.processTransaction(ctx, logger, &page[i], cache, categoryMap, syncedAt, result); err != nil {
				errMsg := fmt.Sprintf("failed to process transaction %s: %v", page[i].ExternalID, err)
				result.Errors = append(result.Errors, errMsg)
				logger.Error().Err(err).Str("external_transaction_id", page[i].ExternalID).Msg("transaction upsert failed")
			}
		}

		if len(page) < PageSize {
			break
		}
		offset += len(page)
	}

	logger.Info().
		Int("found", result.TransactionsFound).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("pages", result.Pages).
		Int("errors", len(result.Errors)).
		Msg("transaction sync complete")

	return result, nil
}

func (s *TransactionSyncService) processTransaction(
	ctx context.Context,
	logger zerolog.Logger,
	remote *aggregator.Transaction,
	cache *accountCache,
	categoryMap transaction.CategoryMap,
	syncedAt time.Time,
	result *TransactionSyncResult,
) error {
	acc, err := cache.get(ctx, remote.ExternalAccountID)
	if err != nil {
		return fmt.Errorf("failed to find account: %w", err)
	}
	if acc == nil {
		logger.Warn().
			Str("external_transaction_id", remote.ExternalID).
			Str("external_account_id", remote.ExternalAccountID).
			Msg("skipping transaction: no local account under this connection")
		result.Skipped++
		return nil
	}

	topCategory := remote.TopCategory
	if topCategory == "" && len(remote.CategoryHierarchy) > 0 {
		topCategory = remote.CategoryHierarchy[0]
	}

	category := transaction.ResolveCategory(transaction.CategoryInput{
		CategoryID:   remote.CategoryID,
		TopCategory:  topCategory,
		Hierarchy:    remote.CategoryHierarchy,
		MerchantName: remote.MerchantName,
	}, categoryMap)

	currency := remote.Currency
	if currency == "" {
		currency = acc.Currency
	}

	_, created, err := s.transactions.Upsert(ctx, transaction.UpsertTransactionParams{
		ExternalID:         remote.ExternalID,
		AccountID:          acc.ID,
		Amount:             remote.Amount,
		Date:               remote.Date,
		AuthorizedDate:     remote.AuthorizedDate,
		Pending:            remote.Pending,
		MerchantName:       remote.MerchantName,
		TopCategory:        topCategory,
		CategoryHierarchy:  remote.CategoryHierarchy,
		ExternalCategoryID: remote.CategoryID,
		Category:           category,
		Currency:           currency,
		SyncedAt:           syncedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	if created {
		result.Created++
	} else {
		result.Updated++
	}
	return nil
}
