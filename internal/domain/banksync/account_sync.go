// Package banksync keeps the local mirror of linked accounts and transactions
// in step with the aggregator.
package banksync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"flowly/internal/domain/account"
	"flowly/internal/domain/connection"
	"flowly/internal/infrastructure/aggregator"
)

// AccountSyncResult contains the results of reconciling one connection's accounts
type AccountSyncResult struct {
	ConnectionID  string   `json:"connectionId"`
	AccountsFound int      `json:"accountsFound"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Tombstoned    int      `json:"tombstoned"`
	Removed       int      `json:"removed"`
	Errors        []string `json:"errors"`
}

// Synced is the number of accounts created or updated.
func (r *AccountSyncResult) Synced() int {
	return r.Created + r.Updated
}

// AccountSyncService reconciles local accounts against the aggregator's view
// of a connection.
type AccountSyncService struct {
	client     aggregator.Client
	accounts   account.Repository
	tombstones account.TombstoneRepository
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAccountSyncService creates a new account sync service
func NewAccountSyncService(
	client aggregator.Client,
	accounts account.Repository,
	tombstones account.TombstoneRepository,
	logger zerolog.Logger,
) *AccountSyncService {
	return &AccountSyncService{
		client:     client,
		accounts:   accounts,
		tombstones: tombstones,
		logger:     logger,
		now:        time.Now,
	}
}

// SyncConnectionAccounts upserts every reported account that the user has not
// unlinked, then removes local accounts the aggregator no longer reports.
// Failing to fetch the account list or the tombstone set leaves local state
// untouched.
func (s *AccountSyncService) SyncConnectionAccounts(ctx context.Context, conn *connection.Connection) (*AccountSyncResult, error) {
	result := &AccountSyncResult{
		ConnectionID: conn.ID,
		Errors:       []string{},
	}
	logger := s.logger.With().Str("connection_id", conn.ID).Str("user_id", conn.UserID).Logger()

	reported, err := s.client.ListAccounts(ctx, conn.Credential)
	if err != nil {
		return result, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	result.AccountsFound = len(reported)

	removed, err := s.tombstones.ExternalIDsByConnection(ctx, conn.ID)
	if err != nil {
		return result, fmt.Errorf("failed to load removed accounts: %w", err)
	}

	logger.Debug().Int("accounts", len(reported)).Int("tombstones", len(removed)).Msg("reconciling accounts")

	syncedAt := s.now().UTC()
	keep := make(map[string]struct{}, len(reported))

	for _, remote := range reported {
		if _, ok := removed[remote.ExternalID]; ok {
			result.Tombstoned++
			logger.Debug().Str("external_account_id", remote.ExternalID).Msg("skipping unlinked account")
			continue
		}
		keep[remote.ExternalID] = struct{}{}

		if err := s.syncAccount(ctx, conn, remote, syncedAt, result); err != nil {
			errMsg := fmt.Sprintf("failed to sync account %s: %v", remote.ExternalID, err)
			result.Errors = append(result.Errors, errMsg)
			logger.Error().Err(err).Str("external_account_id", remote.ExternalID).Msg("account upsert failed")
		}
	}

	s.removeStale(ctx, logger, conn.ID, keep, result)

	logger.Info().
		Int("found", result.AccountsFound).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("tombstoned", result.Tombstoned).
		Int("removed", result.Removed).
		Int("errors", len(result.Errors)).
		Msg("account sync complete")

	return result, nil
}

func (s *AccountSyncService) syncAccount(ctx context.Context, conn *connection.Connection, remote aggregator.Account, syncedAt time.Time, result *AccountSyncResult) error {
	institutionID := remote.InstitutionID
	if institutionID == "" {
		institutionID = conn.InstitutionID
	}

	_, created, err := s.accounts.Upsert(ctx, account.UpsertParams{
		ExternalID:    remote.ExternalID,
		UserID:        conn.UserID,
		ConnectionID:  conn.ID,
		Name:          remote.Name,
		OfficialName:  remote.OfficialName,
		Mask:          remote.Mask,
		Type:          remote.Type,
		Subtype:       remote.Subtype,
		InstitutionID: institutionID,
		Currency:      remote.Currency,
		Balance:       remote.Balance,
		SyncedAt:      syncedAt,
	})
	if err != nil {
		return err
	}

	if created {
		result.Created++
	} else {
		result.Updated++
	}
	return nil
}

// removeStale deletes local accounts under the connection that are absent
// from keep. A locally present account that was tombstoned is absent from
// keep as well, so it goes too.
func (s *AccountSyncService) removeStale(ctx context.Context, logger zerolog.Logger, connectionID string, keep map[string]struct{}, result *AccountSyncResult) {
	local, err := s.accounts.ListByConnectionID(ctx, connectionID)
	if err != nil {
		errMsg := fmt.Sprintf("failed to list local accounts: %v", err)
		result.Errors = append(result.Errors, errMsg)
		logger.Error().Err(err).Msg("stale account pass skipped")
		return
	}

	for _, acc := range local {
		if _, ok := keep[acc.ExternalID]; ok {
			continue
		}
		if err := s.accounts.DeleteCascade(ctx, acc.ID); err != nil {
			errMsg := fmt.Sprintf("failed to remove stale account %s: %v", acc.ExternalID, err)
			result.Errors = append(result.Errors, errMsg)
			logger.Error().Err(err).Str("external_account_id", acc.ExternalID).Msg("stale account removal failed")
			continue
		}
		result.Removed++
		logger.Info().Str("external_account_id", acc.ExternalID).Str("account_id", acc.ID).Msg("removed stale account")
	}
}
