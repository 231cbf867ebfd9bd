package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowly/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, external_id, user_id, connection_id, name, official_name, mask,
	type, subtype, institution_id, currency, balance, created_at, updated_at`

// Upsert creates or updates an account keyed by its external id. An update
// also moves the account to the reporting connection and its owner.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", account.ErrInvalidInput, err)
	}

	syncedAt := params.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	syncedAt = syncedAt.UTC()

	var acc *account.Account
	var created bool

	err := r.db.withTx(ctx, "account.upsert", func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE external_id = $1`, params.ExternalID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
			existingID = uuid.NewString()
		case err != nil:
			return fmt.Errorf("failed to check account existence: %w", err)
		}

		query := `
			INSERT INTO accounts (
				id, external_id, user_id, connection_id, name, official_name, mask,
				type, subtype, institution_id, currency, balance, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
			ON CONFLICT (external_id)
			DO UPDATE SET
				user_id = EXCLUDED.user_id,
				connection_id = EXCLUDED.connection_id,
				name = EXCLUDED.name,
				official_name = EXCLUDED.official_name,
				mask = EXCLUDED.mask,
				type = EXCLUDED.type,
				subtype = EXCLUDED.subtype,
				institution_id = EXCLUDED.institution_id,
				currency = EXCLUDED.currency,
				balance = EXCLUDED.balance,
				updated_at = EXCLUDED.updated_at
			RETURNING ` + accountColumns

		acc, err = scanAccount(tx.QueryRowContext(ctx, query,
			existingID, params.ExternalID, params.UserID, params.ConnectionID, params.Name,
			nullString(params.OfficialName), nullString(params.Mask),
			nullString(params.Type), nullString(params.Subtype), nullString(params.InstitutionID),
			nullString(params.Currency), params.Balance, syncedAt,
		))
		if err != nil {
			return fmt.Errorf("failed to upsert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return acc, created, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) GetByExternalID(ctx context.Context, connectionID, externalID string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE connection_id = $1 AND external_id = $2`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, connectionID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		// Intentionally returns (nil, nil) instead of an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by external id: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE connection_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// DeleteCascade removes an account and its transactions atomically.
func (r *AccountRepository) DeleteCascade(ctx context.Context, id string) error {
	return r.db.withTx(ctx, "account.delete_cascade", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE account_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete account transactions: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return account.ErrAccountNotFound
		}
		return nil
	})
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var officialName, mask, accType, subtype, institutionID, currency sql.NullString

	err := row.Scan(
		&acc.ID, &acc.ExternalID, &acc.UserID, &acc.ConnectionID, &acc.Name,
		&officialName, &mask, &accType, &subtype, &institutionID, &currency,
		&acc.Balance, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.OfficialName = officialName.String
	acc.Mask = mask.String
	acc.Type = accType.String
	acc.Subtype = subtype.String
	acc.InstitutionID = institutionID.String
	acc.Currency = currency.String

	return &acc, nil
}

// TombstoneRepository implements account.TombstoneRepository
type TombstoneRepository struct {
	db *DB
}

var _ account.TombstoneRepository = (*TombstoneRepository)(nil)

func NewTombstoneRepository(db *DB) *TombstoneRepository {
	return &TombstoneRepository{db: db}
}

func (r *TombstoneRepository) Create(ctx context.Context, t account.Tombstone) error {
	removedAt := t.RemovedAt
	if removedAt.IsZero() {
		removedAt = time.Now()
	}

	query := `
		INSERT INTO removed_accounts (connection_id, external_account_id, user_id, removed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connection_id, external_account_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, t.ConnectionID, t.ExternalAccountID, t.UserID, removedAt.UTC()); err != nil {
		return fmt.Errorf("failed to create tombstone: %w", err)
	}
	return nil
}

func (r *TombstoneRepository) ExternalIDsByConnection(ctx context.Context, connectionID string) (map[string]struct{}, error) {
	query := `SELECT external_account_id FROM removed_accounts WHERE connection_id = $1`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tombstones: %w", err)
	}
	return ids, nil
}
