package account

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the business logic for user-initiated account operations
type Service struct {
	repo       Repository
	tombstones TombstoneRepository
	now        func() time.Time
}

// NewService creates a new account service
func NewService(repo Repository, tombstones TombstoneRepository) *Service {
	return &Service{repo: repo, tombstones: tombstones, now: time.Now}
}

// GetAccount retrieves an account by ID and verifies user ownership
func (s *Service) GetAccount(ctx context.Context, accountID, userID string) (*Account, error) {
	if accountID == "" || userID == "" {
		return nil, ErrInvalidInput
	}

	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	// Business rule: verify ownership
	if account.UserID != userID {
		return nil, ErrForbidden
	}

	return account, nil
}

// UnlinkAccount removes an account on the user's request. The tombstone is
// written before the delete. A sync that loaded its tombstones earlier may
// still re-insert the account; the next sync of the connection removes it
// again and never recreates it.
func (s *Service) UnlinkAccount(ctx context.Context, accountID, userID string) (*Account, error) {
	account, err := s.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	err = s.tombstones.Create(ctx, Tombstone{
		ConnectionID:      account.ConnectionID,
		ExternalAccountID: account.ExternalID,
		UserID:            userID,
		RemovedAt:         s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record removed account: %w", err)
	}

	if err := s.repo.DeleteCascade(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("failed to delete account: %w", err)
	}

	return account, nil
}
