package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowly/internal/domain/connection"
)

// Cipher seals credentials before they reach storage.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ConnectionRepository implements connection.Repository
type ConnectionRepository struct {
	db     *DB
	cipher Cipher
	now    func() time.Time
}

var _ connection.Repository = (*ConnectionRepository)(nil)

func NewConnectionRepository(db *DB, cipher Cipher) *ConnectionRepository {
	return &ConnectionRepository{db: db, cipher: cipher, now: time.Now}
}

const connectionColumns = `id, user_id, external_id, credential, institution_id, institution_name,
	status, last_error, last_synced_at, created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", connection.ErrInvalidInput, err)
	}

	sealed, err := r.cipher.Encrypt(params.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := r.now().UTC()
	conn := &connection.Connection{
		ID:              uuid.NewString(),
		UserID:          params.UserID,
		ExternalID:      params.ExternalID,
		Credential:      params.Credential,
		InstitutionID:   params.InstitutionID,
		InstitutionName: params.InstitutionName,
		Status:          connection.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
		INSERT INTO connections (id, user_id, external_id, credential, institution_id, institution_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		conn.ID, conn.UserID, conn.ExternalID, sealed,
		nullString(conn.InstitutionID), nullString(conn.InstitutionName), conn.Status, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return conn, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByExternalID(ctx context.Context, externalID string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE external_id = $1`

	conn, err := r.scan(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by external id: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListSyncable(ctx context.Context) ([]*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = $1 AND credential <> ''
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, connection.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		conn, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepository) UpdateCredential(ctx context.Context, id, credential string) error {
	sealed, err := r.cipher.Encrypt(credential)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	query := `
		UPDATE connections
		SET credential = $1, status = $2, last_error = NULL, updated_at = $3
		WHERE id = $4
	`
	return r.exec(ctx, "update connection credential", query, sealed, connection.StatusActive, r.now().UTC(), id)
}

func (r *ConnectionRepository) UpdateInstitution(ctx context.Context, id, institutionID, institutionName string) error {
	query := `
		UPDATE connections
		SET institution_id = $1, institution_name = $2, updated_at = $3
		WHERE id = $4
	`
	return r.exec(ctx, "update connection institution", query,
		nullString(institutionID), nullString(institutionName), r.now().UTC(), id)
}

func (r *ConnectionRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE connections
		SET last_synced_at = $1, last_error = NULL, updated_at = $1
		WHERE id = $2
	`
	return r.exec(ctx, "mark connection synced", query, at.UTC(), id)
}

func (r *ConnectionRepository) SetStatus(ctx context.Context, id, status, lastError string) error {
	query := `
		UPDATE connections
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	return r.exec(ctx, "set connection status", query, status, nullString(lastError), r.now().UTC(), id)
}

func (r *ConnectionRepository) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) scan(row rowScanner) (*connection.Connection, error) {
	var conn connection.Connection
	var sealed string
	var institutionID, institutionName, lastError sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.ExternalID, &sealed,
		&institutionID, &institutionName,
		&conn.Status, &lastError, &lastSyncedAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.Credential, err = r.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for connection %s: %w", conn.ID, err)
	}
	conn.InstitutionID = institutionID.String
	conn.InstitutionName = institutionName.String
	conn.LastError = lastError.String
	conn.LastSyncedAt = timePtr(lastSyncedAt)

	return &conn, nil
}
