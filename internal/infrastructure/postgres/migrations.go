package postgres

import (
	"context"
	"fmt"
)

// LinkedChannel is the NOTIFY channel fired when a connection's credential
// is inserted or rotated. The payload is the connection id.
const LinkedChannel = "connection_linked"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		external_id      TEXT NOT NULL UNIQUE,
		credential       TEXT NOT NULL,
		institution_id   TEXT,
		institution_name TEXT,
		status           TEXT NOT NULL DEFAULT 'active',
		last_error       TEXT,
		last_synced_at   TIMESTAMP,
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_user_id ON connections (user_id)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id             TEXT PRIMARY KEY,
		external_id    TEXT NOT NULL UNIQUE,
		user_id        TEXT NOT NULL,
		connection_id  TEXT NOT NULL REFERENCES connections (id),
		name           TEXT NOT NULL,
		official_name  TEXT,
		mask           TEXT,
		type           TEXT,
		subtype        TEXT,
		institution_id TEXT,
		currency       TEXT,
		balance        NUMERIC(18, 2) NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_connection_id ON accounts (connection_id)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id                   TEXT PRIMARY KEY,
		external_id          TEXT NOT NULL UNIQUE,
		account_id           TEXT NOT NULL REFERENCES accounts (id),
		amount               NUMERIC(18, 2) NOT NULL,
		direction            TEXT NOT NULL,
		date                 DATE NOT NULL,
		authorized_date      DATE,
		pending              BOOLEAN NOT NULL DEFAULT FALSE,
		merchant_name        TEXT,
		top_category         TEXT,
		category_hierarchy   TEXT,
		external_category_id TEXT,
		category             TEXT,
		currency             TEXT,
		created_at           TIMESTAMP NOT NULL,
		updated_at           TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions (account_id)`,

	`CREATE TABLE IF NOT EXISTS removed_accounts (
		connection_id       TEXT NOT NULL,
		external_account_id TEXT NOT NULL,
		user_id             TEXT NOT NULL,
		removed_at          TIMESTAMP NOT NULL,
		PRIMARY KEY (connection_id, external_account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS category_maps (
		external_key      TEXT PRIMARY KEY,
		internal_category TEXT NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
}

var postgresOnly = []string{
	`CREATE OR REPLACE FUNCTION notify_connection_linked() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + LinkedChannel + `', NEW.id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS connection_linked ON connections`,
	`CREATE TRIGGER connection_linked
		AFTER INSERT OR UPDATE OF credential ON connections
		FOR EACH ROW EXECUTE FUNCTION notify_connection_linked()`,
}

// Migrate creates the schema. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	statements := schema
	if db.driver == DriverPostgres {
		statements = append(append([]string{}, schema...), postgresOnly...)
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration step %d: %w", i+1, err)
		}
	}
	return nil
}
