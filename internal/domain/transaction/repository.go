package transaction

import "context"

// Repository defines data access for synced transactions.
type Repository interface {
	// Upsert creates or updates a transaction keyed by its external id.
	// The boolean reports whether a new row was inserted.
	Upsert(ctx context.Context, params UpsertTransactionParams) (*Transaction, bool, error)

	// GetByExternalID returns nil, nil when missing.
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// ListByAccountID returns an account's transactions, newest first.
	ListByAccountID(ctx context.Context, accountID string) ([]*Transaction, error)
}

// CategoryRepository reads and seeds the category map.
type CategoryRepository interface {
	// Map returns a snapshot of external key to internal category.
	Map(ctx context.Context) (CategoryMap, error)

	// Upsert writes or replaces one mapping.
	Upsert(ctx context.Context, externalKey, internalCategory string) error
}
