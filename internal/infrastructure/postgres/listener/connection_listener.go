// Package listener reacts to PostgreSQL notifications.
package listener

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// LinkHandler receives the id of a connection whose credential was created
// or rotated.
type LinkHandler func(connectionID string)

// ConnectionListener listens for newly linked connections so they sync
// without waiting for the next scheduled pass.
type ConnectionListener struct {
	connStr string
	channel string
	handle  LinkHandler
	logger  zerolog.Logger

	startOnce  sync.Once
	stopOnce   sync.Once
	started    bool
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewConnectionListener creates a listener on the given NOTIFY channel.
func NewConnectionListener(connStr, channel string, handle LinkHandler, logger zerolog.Logger) *ConnectionListener {
	return &ConnectionListener{
		connStr:    connStr,
		channel:    channel,
		handle:     handle,
		logger:     logger.With().Str("component", "link_listener").Str("channel", channel).Logger(),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine. Repeated calls are no-ops.
func (l *ConnectionListener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.started = true
		go l.listen(ctx)
		l.logger.Info().Msg("link listener started")
	})
}

// Stop shuts the listener down and waits for it to exit.
func (l *ConnectionListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.shutdownCh)
		if l.started {
			<-l.done
		}
		l.logger.Info().Msg("link listener stopped")
	})
}

func (l *ConnectionListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.logger.Info().Msg("reconnecting to PostgreSQL for notifications")
		}
	}
}

func (l *ConnectionListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Debug().Msg("connected to notification channel")
		case pq.ListenerEventDisconnected:
			l.logger.Warn().Err(err).Msg("disconnected from notification channel")
		case pq.ListenerEventReconnected:
			l.logger.Info().Msg("reconnected to notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn().Err(err).Msg("notification connection attempt failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		l.logger.Error().Err(err).Msg("failed to listen on channel")
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost; pq re-establishes it, but events sent in
				// between are gone, so the next scheduled pass covers them.
				l.logger.Warn().Msg("notification connection reset")
				continue
			}
			l.handleNotification(notification)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}

func (l *ConnectionListener) handleNotification(n *pq.Notification) {
	connectionID := strings.TrimSpace(n.Extra)
	if connectionID == "" {
		l.logger.Warn().Msg("ignoring notification without connection id")
		return
	}

	l.logger.Info().Str("connection_id", connectionID).Msg("connection linked, scheduling sync")
	l.handle(connectionID)
}
