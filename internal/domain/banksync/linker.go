package banksync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"flowly/internal/domain/connection"
	"flowly/internal/infrastructure/aggregator"
)

// Linker turns a completed link flow into a stored connection.
type Linker struct {
	client      aggregator.Client
	connections connection.Repository
	logger      zerolog.Logger
}

func NewLinker(client aggregator.Client, connections connection.Repository, logger zerolog.Logger) *Linker {
	return &Linker{client: client, connections: connections, logger: logger}
}

// CreateLinkToken starts a link flow for the user.
func (l *Linker) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user ID is required", connection.ErrInvalidInput)
	}

	token, err := l.client.CreateLinkToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to create link token: %w", err)
	}
	return token, nil
}

// Exchange swaps a public token for a credential and stores the connection.
// Linking an institution the user already linked rotates the credential and
// reactivates the connection; the boolean reports that case. An institution
// linked by a different user yields connection.ErrConnectionConflict.
func (l *Linker) Exchange(ctx context.Context, publicToken, userID string) (*connection.Connection, bool, error) {
	if publicToken == "" || userID == "" {
		return nil, false, fmt.Errorf("%w: public token and user ID are required", connection.ErrInvalidInput)
	}

	ex, err := l.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, false, fmt.Errorf("failed to exchange public token: %w", err)
	}

	logger := l.logger.With().Str("user_id", userID).Str("external_connection_id", ex.ExternalConnectionID).Logger()

	existing, err := l.connections.GetByExternalID(ctx, ex.ExternalConnectionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing connection: %w", err)
	}

	if existing != nil {
		if existing.UserID != userID {
			logger.Warn().Str("owner_id", existing.UserID).Msg("refusing to link connection owned by another user")
			return nil, false, connection.ErrConnectionConflict
		}
		if err := l.connections.UpdateCredential(ctx, existing.ID, ex.Credential); err != nil {
			return nil, false, fmt.Errorf("failed to rotate credential: %w", err)
		}
		conn, err := l.connections.GetByID(ctx, existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reload connection: %w", err)
		}
		logger.Info().Str("connection_id", conn.ID).Msg("connection re-linked")
		return conn, true, nil
	}

	institutionID, institutionName := l.lookupInstitution(ctx, logger, ex.Credential)

	conn, err := l.connections.Create(ctx, connection.CreateParams{
		UserID:          userID,
		ExternalID:      ex.ExternalConnectionID,
		Credential:      ex.Credential,
		InstitutionID:   institutionID,
		InstitutionName: institutionName,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to store connection: %w", err)
	}

	logger.Info().Str("connection_id", conn.ID).Str("institution", institutionName).Msg("connection linked")
	return conn, false, nil
}

// lookupInstitution is best-effort: failures only cost the display name.
func (l *Linker) lookupInstitution(ctx context.Context, logger zerolog.Logger, credential string) (string, string) {
	item, err := l.client.GetItem(ctx, credential)
	if err != nil {
		logger.Warn().Err(err).Msg("item lookup failed")
		return "", ""
	}
	if item.InstitutionID == "" {
		return "", ""
	}

	inst, err := l.client.GetInstitution(ctx, item.InstitutionID)
	if err != nil {
		logger.Warn().Err(err).Str("institution_id", item.InstitutionID).Msg("institution lookup failed")
		return item.InstitutionID, ""
	}
	return item.InstitutionID, inst.Name
}
