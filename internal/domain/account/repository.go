package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or updates an account keyed by its external id.
	// The boolean reports whether a new row was inserted.
	Upsert(ctx context.Context, params UpsertParams) (*Account, bool, error)

	// GetByID returns ErrAccountNotFound when missing.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByExternalID looks up an account scoped to a connection.
	// Returns nil, nil when no match exists.
	GetByExternalID(ctx context.Context, connectionID, externalID string) (*Account, error)

	// ListByConnectionID retrieves all accounts under a connection.
	ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error)

	// DeleteCascade removes the account's transactions and then the account
	// inside one storage transaction.
	DeleteCascade(ctx context.Context, id string) error
}

// TombstoneRepository persists removed-account markers.
type TombstoneRepository interface {
	// Create is idempotent for an existing (connection, external account) pair.
	Create(ctx context.Context, t Tombstone) error

	// ExternalIDsByConnection returns the set of tombstoned external account ids.
	ExternalIDsByConnection(ctx context.Context, connectionID string) (map[string]struct{}, error)
}
