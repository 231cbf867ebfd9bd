package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowly/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, external_id, account_id, amount, direction, date, authorized_date, pending,
	merchant_name, top_category, category_hierarchy, external_category_id, category, currency,
	created_at, updated_at`

// Upsert writes the latest aggregator view of a transaction. A re-sync of an
// unchanged transaction rewrites identical values.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertTransactionParams) (*transaction.Transaction, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid transaction: %w", err)
	}

	hierarchy, err := encodeHierarchy(params.CategoryHierarchy)
	if err != nil {
		return nil, false, err
	}

	syncedAt := params.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	syncedAt = syncedAt.UTC()

	var authorized *time.Time
	if params.AuthorizedDate != nil {
		d := dateOnly(*params.AuthorizedDate)
		authorized = &d
	}

	var txn *transaction.Transaction
	var created bool

	err = r.db.withTx(ctx, "transaction.upsert", func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM transactions WHERE external_id = $1`, params.ExternalID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
			existingID = uuid.NewString()
		case err != nil:
			return fmt.Errorf("failed to check transaction existence: %w", err)
		}

		query := `
			INSERT INTO transactions (
				id, external_id, account_id, amount, direction, date, authorized_date, pending,
				merchant_name, top_category, category_hierarchy, external_category_id, category, currency,
				created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
			ON CONFLICT (external_id)
			DO UPDATE SET
				account_id = EXCLUDED.account_id,
				amount = EXCLUDED.amount,
				direction = EXCLUDED.direction,
				date = EXCLUDED.date,
				authorized_date = EXCLUDED.authorized_date,
				pending = EXCLUDED.pending,
				merchant_name = EXCLUDED.merchant_name,
				top_category = EXCLUDED.top_category,
				category_hierarchy = EXCLUDED.category_hierarchy,
				external_category_id = EXCLUDED.external_category_id,
				category = EXCLUDED.category,
				currency = EXCLUDED.currency,
				updated_at = EXCLUDED.updated_at
			RETURNING ` + transactionColumns

		txn, err = scanTransaction(tx.QueryRowContext(ctx, query,
			existingID, params.ExternalID, params.AccountID, params.Amount,
			transaction.DirectionFor(params.Amount), dateOnly(params.Date), nullTime(authorized), params.Pending,
			nullString(params.MerchantName), nullString(params.TopCategory), hierarchy,
			nullString(params.ExternalCategoryID), nullStringPtr(params.Category), nullString(params.Currency),
			syncedAt,
		))
		if err != nil {
			return fmt.Errorf("failed to upsert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return txn, created, nil
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1`

	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY date DESC, external_id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*transaction.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var txn transaction.Transaction
	var authorized sql.NullTime
	var merchant, topCategory, hierarchy, externalCategoryID, category, currency sql.NullString

	err := row.Scan(
		&txn.ID, &txn.ExternalID, &txn.AccountID, &txn.Amount, &txn.Direction,
		&txn.Date, &authorized, &txn.Pending,
		&merchant, &topCategory, &hierarchy, &externalCategoryID, &category, &currency,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Date = dateOnly(txn.Date)
	if t := timePtr(authorized); t != nil {
		d := dateOnly(*t)
		txn.AuthorizedDate = &d
	}
	txn.MerchantName = merchant.String
	txn.TopCategory = topCategory.String
	txn.ExternalCategoryID = externalCategoryID.String
	txn.Category = stringPtr(category)
	txn.Currency = currency.String

	if hierarchy.Valid && hierarchy.String != "" {
		if err := json.Unmarshal([]byte(hierarchy.String), &txn.CategoryHierarchy); err != nil {
			return nil, fmt.Errorf("failed to decode category hierarchy: %w", err)
		}
	}

	return &txn, nil
}

func encodeHierarchy(h []string) (sql.NullString, error) {
	if len(h) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode category hierarchy: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CategoryRepository implements transaction.CategoryRepository
type CategoryRepository struct {
	db *DB
}

var _ transaction.CategoryRepository = (*CategoryRepository)(nil)

func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) Map(ctx context.Context) (transaction.CategoryMap, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT external_key, internal_category FROM category_maps`)
	if err != nil {
		return nil, fmt.Errorf("failed to load category map: %w", err)
	}
	defer rows.Close()

	m := make(transaction.CategoryMap)
	for rows.Next() {
		var key, category string
		if err := rows.Scan(&key, &category); err != nil {
			return nil, fmt.Errorf("failed to scan category mapping: %w", err)
		}
		m[key] = category
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category map: %w", err)
	}
	return m, nil
}

func (r *CategoryRepository) Upsert(ctx context.Context, externalKey, internalCategory string) error {
	if externalKey == "" || internalCategory == "" {
		return errors.New("category mapping requires a key and a category")
	}

	query := `
		INSERT INTO category_maps (external_key, internal_category, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_key)
		DO UPDATE SET internal_category = EXCLUDED.internal_category, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, externalKey, internalCategory, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert category mapping: %w", err)
	}
	return nil
}
