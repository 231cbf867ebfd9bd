package banksync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"flowly/internal/domain/connection"
	"flowly/internal/infrastructure/aggregator"
)

var (
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrConnectionNotSyncable = errors.New("connection has no usable credential")
)

var (
	syncTracer            = otel.Tracer("flowly/banksync")
	syncMeter             = otel.Meter("flowly/banksync")
	accountsSynced, _     = syncMeter.Int64Counter("sync.accounts.synced", metric.WithDescription("Accounts created or updated"))
	transactionsSynced, _ = syncMeter.Int64Counter("sync.transactions.synced", metric.WithDescription("Transactions created or updated"))
	connectionFailures, _ = syncMeter.Int64Counter("sync.connection.failures", metric.WithDescription("Connection syncs that failed by error class"))
	passDuration, _       = syncMeter.Float64Histogram("sync.pass.duration", metric.WithDescription("Full sync pass duration in seconds"), metric.WithUnit("s"))
)

// Options tunes a full pass.
type Options struct {
	Workers           int
	ConnectionTimeout time.Duration
}

// ConnectionResult is the outcome of syncing one connection.
type ConnectionResult struct {
	ConnectionID string                 `json:"connectionId"`
	Accounts     *AccountSyncResult     `json:"accounts,omitempty"`
	Transactions *TransactionSyncResult `json:"transactions,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// PassResult summarizes a full pass.
type PassResult struct {
	Connections int           `json:"connections"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// Service runs the account and transaction sync for connections.
type Service struct {
	connections     connection.Repository
	accountSync     *AccountSyncService
	transactionSync *TransactionSyncService
	opts            Options
	logger          zerolog.Logger
	inflight        singleflight.Group
	now             func() time.Time
}

func NewService(
	connections connection.Repository,
	accountSync *AccountSyncService,
	transactionSync *TransactionSyncService,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = 5 * time.Minute
	}
	return &Service{
		connections:     connections,
		accountSync:     accountSync,
		transactionSync: transactionSync,
		opts:            opts,
		logger:          logger,
		now:             time.Now,
	}
}

// SyncConnection reconciles accounts and then transactions for one
// connection. Concurrent calls for the same connection share one execution,
// which runs detached from any caller's cancellation and is bounded by the
// connection timeout. A caller whose ctx ends first gets ctx.Err() while the
// shared sync carries on.
func (s *Service) SyncConnection(ctx context.Context, connectionID string) (*ConnectionResult, error) {
	ch := s.inflight.DoChan(connectionID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ConnectionTimeout)
		defer cancel()
		return s.syncConnection(fctx, connectionID)
	})

	select {
	case res := <-ch:
		result, _ := res.Val.(*ConnectionResult)
		return result, res.Err
	case <-ctx.Done():
		return &ConnectionResult{ConnectionID: connectionID, Error: ctx.Err().Error()}, ctx.Err()
	}
}

func (s *Service) syncConnection(ctx context.Context, connectionID string) (*ConnectionResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.connection", trace.WithAttributes(
		attribute.String("connection.id", connectionID),
	))
	defer span.End()

	result := &ConnectionResult{ConnectionID: connectionID}

	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("failed to load connection: %w", err)
	}
	if !conn.Syncable() {
		result.Error = ErrConnectionNotSyncable.Error()
		return result, fmt.Errorf("connection %s (%s): %w", conn.ID, conn.Status, ErrConnectionNotSyncable)
	}

	result.Accounts, err = s.accountSync.SyncConnectionAccounts(ctx, conn)
	if err != nil {
		return result, s.fail(ctx, span, conn, result, err)
	}
	accountsSynced.Add(ctx, int64(result.Accounts.Synced()))

	result.Transactions, err = s.transactionSync.SyncConnectionTransactions(ctx, conn, nil)
	if result.Transactions != nil {
		transactionsSynced.Add(ctx, int64(result.Transactions.Synced()))
	}
	if err != nil {
		return result, s.fail(ctx, span, conn, result, err)
	}

	if err := s.connections.MarkSynced(ctx, conn.ID, s.now().UTC()); err != nil {
		return result, s.fail(ctx, span, conn, result, fmt.Errorf("failed to record sync time: %w", err))
	}

	return result, nil
}

// fail records a connection-level failure. A rejected credential moves the
// connection to login_required so it drops out of later passes until
// re-linked.
func (s *Service) fail(ctx context.Context, span trace.Span, conn *connection.Connection, result *ConnectionResult, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	result.Error = cause.Error()

	status, class := conn.Status, "other"
	switch {
	case errors.Is(cause, aggregator.ErrAuth):
		status, class = connection.StatusLoginRequired, "auth"
	case errors.Is(cause, aggregator.ErrUnavailable):
		class = "unavailable"
	}
	connectionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))

	if err := s.connections.SetStatus(ctx, conn.ID, status, cause.Error()); err != nil {
		s.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to record connection error")
	}
	if status == connection.StatusLoginRequired {
		s.logger.Warn().Str("connection_id", conn.ID).Str("user_id", conn.UserID).Msg("credential rejected, connection needs re-link")
	}
	return cause
}

// RunFullPass syncs every syncable connection on a bounded worker group.
// It never fails: per-connection errors are logged and counted. Cancelling
// ctx stops new connections from starting; in-flight ones finish on a
// detached context bounded by the connection timeout.
func (s *Service) RunFullPass(ctx context.Context) *PassResult {
	start := s.now()
	result := &PassResult{}
	defer func() {
		result.Duration = s.now().Sub(start)
		passDuration.Record(context.WithoutCancel(ctx), result.Duration.Seconds())
	}()

	conns, err := s.connections.ListSyncable(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to enumerate connections, ending pass")
		return result
	}
	result.Connections = len(conns)
	s.logger.Info().Int("connections", len(conns)).Int("workers", s.opts.Workers).Msg("starting sync pass")

	var succeeded, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	for _, conn := range conns {
		if ctx.Err() != nil {
			s.logger.Info().Msg("sync pass cancelled, not starting remaining connections")
			break
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ConnectionTimeout)
			defer cancel()

			if _, err := s.SyncConnection(cctx, conn.ID); err != nil {
				failed.Add(1)
				s.logger.Error().Err(err).Str("connection_id", conn.ID).Str("user_id", conn.UserID).Msg("connection sync failed")
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())

	s.logger.Info().
		Int("connections", result.Connections).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", s.now().Sub(start)).
		Msg("sync pass complete")

	return result
}
