package connection

import (
	"context"
	"time"
)

// Repository defines data access for connections.
type Repository interface {
	// Create inserts a new active connection.
	Create(ctx context.Context, params CreateParams) (*Connection, error)

	// GetByID returns ErrConnectionNotFound when missing.
	GetByID(ctx context.Context, id string) (*Connection, error)

	// GetByExternalID returns nil, nil when no connection has that external id.
	GetByExternalID(ctx context.Context, externalID string) (*Connection, error)

	// ListSyncable returns every active connection holding a credential.
	ListSyncable(ctx context.Context) ([]*Connection, error)

	// UpdateCredential rotates the credential and resets the status to active.
	UpdateCredential(ctx context.Context, id, credential string) error

	// UpdateInstitution records institution id and display name.
	UpdateInstitution(ctx context.Context, id, institutionID, institutionName string) error

	// MarkSynced stamps a successful sync and clears any previous error.
	MarkSynced(ctx context.Context, id string, at time.Time) error

	// SetStatus records a status change along with the error that caused it.
	SetStatus(ctx context.Context, id, status, lastError string) error
}
