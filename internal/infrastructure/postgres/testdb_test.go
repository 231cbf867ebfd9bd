package postgres

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"flowly/internal/infrastructure/crypto"
)

const testKey = "01234567890123456789012345678901"

// newTestDB opens a migrated in-memory SQLite database.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newTestCipher(t *testing.T) *crypto.Encryptor {
	t.Helper()

	enc, err := crypto.NewEncryptor(testKey)
	require.NoError(t, err)
	return enc
}
