package scheduler

import (
	"context"
	"fmt"

	"flowly/internal/domain/banksync"
)

// ConnectionSyncer syncs a single connection.
type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, connectionID string) (*banksync.ConnectionResult, error)
}

// ConnectionSyncJob implements the Job interface for an on-demand sync of
// one connection: accounts first, then transactions.
type ConnectionSyncJob struct {
	connectionID string
	syncer       ConnectionSyncer
}

// NewConnectionSyncJob creates a new sync job for a connection
func NewConnectionSyncJob(connectionID string, syncer ConnectionSyncer) *ConnectionSyncJob {
	return &ConnectionSyncJob{
		connectionID: connectionID,
		syncer:       syncer,
	}
}

// Execute runs the sync. Per-record errors inside an otherwise successful
// sync fail the job so they show up in the job metrics.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	result, err := j.syncer.SyncConnection(ctx, j.connectionID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	var errCount int
	if result.Accounts != nil {
		errCount += len(result.Accounts.Errors)
	}
	if result.Transactions != nil {
		errCount += len(result.Transactions.Errors)
	}
	if errCount > 0 {
		return fmt.Errorf("sync completed with %d errors", errCount)
	}
	return nil
}

func (j *ConnectionSyncJob) ConnectionID() string {
	return j.connectionID
}

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("sync connection %s", j.connectionID)
}
