package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowly/internal/domain/account"
	"flowly/internal/domain/banksync"
	"flowly/internal/domain/connection"
	"flowly/internal/infrastructure/aggregator"
	"flowly/internal/infrastructure/crypto"
	"flowly/internal/infrastructure/postgres"
)

type testEnv struct {
	db          *postgres.DB
	client      *aggregator.MemoryClient
	connections *postgres.ConnectionRepository
	cipher      *crypto.Encryptor
	out         *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := postgres.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	cipher, err := crypto.NewEncryptor("01234567890123456789012345678901")
	require.NoError(t, err)

	return &testEnv{
		db:          db,
		client:      aggregator.NewMemoryClient(),
		connections: postgres.NewConnectionRepository(db, cipher),
		cipher:      cipher,
		out:         &bytes.Buffer{},
	}
}

// run executes the CLI against the shared in-memory database, which outlives
// each command because newApp leaves the closer unset.
func (e *testEnv) run(t *testing.T, args ...string) error {
	t.Helper()

	open := func(cmd *cobra.Command) (*app, error) {
		a := newApp(e.db, e.client, e.cipher, banksync.Options{Workers: 2, ConnectionTimeout: time.Minute}, 90, e.out, zerolog.Nop())
		return a, nil
	}
	root := newRootCmd(open)
	root.SetArgs(args)
	root.SetOut(e.out)
	root.SetErr(e.out)
	return root.ExecuteContext(context.Background())
}

func (e *testEnv) linkConnection(t *testing.T, credential string) *connection.Connection {
	t.Helper()

	today := time.Now().UTC()
	e.client.AddConnection(credential, "item-"+credential, "ins_1",
		[]aggregator.Account{
			{ExternalID: credential + "-checking", Name: "Checking", Currency: "USD", Balance: decimal.RequireFromString("100.00")},
		},
		[]aggregator.Transaction{
			{ExternalID: credential + "-tx-1", ExternalAccountID: credential + "-checking", Amount: decimal.RequireFromString("12.50"), Date: today, MerchantName: "Uber", CategoryID: "22016000", Currency: "USD"},
			{ExternalID: credential + "-tx-2", ExternalAccountID: credential + "-checking", Amount: decimal.RequireFromString("-900.00"), Date: today.AddDate(0, 0, -3), TopCategory: "Transfer", Currency: "USD"},
		},
	)

	conn, err := e.connections.Create(context.Background(), connection.CreateParams{
		UserID:     "user-1",
		ExternalID: "item-" + credential,
		Credential: credential,
	})
	require.NoError(t, err)
	return conn
}

func TestMigrateCommand(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "migrate"))
	assert.Contains(t, env.out.String(), "schema up to date")
}

func TestSeedCategories_Defaults(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "seed-categories"))

	m, err := postgres.NewCategoryRepository(env.db).Map(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Groceries", m["13005000"])
	assert.Contains(t, env.out.String(), "seeded")
}

func TestSeedCategories_File(t *testing.T) {
	env := newTestEnv(t)

	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mappings:\n  - key: \"99\"\n    category: Pets\n"), 0o600))

	require.NoError(t, env.run(t, "seed-categories", "--file", path))

	m, err := postgres.NewCategoryRepository(env.db).Map(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"99": "Pets"}, map[string]string(m))
	assert.Contains(t, env.out.String(), "seeded 1 category mappings")
}

func TestSeedCategories_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	err := env.run(t, "seed-categories", "--file", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSyncConnectionCommand(t *testing.T) {
	env := newTestEnv(t)
	conn := env.linkConnection(t, "access-1")

	require.NoError(t, env.run(t, "sync-connection", "--id", conn.ID))
	assert.Contains(t, env.out.String(), `"connectionId": "`+conn.ID+`"`)

	accounts, err := postgres.NewAccountRepository(env.db).ListByConnectionID(context.Background(), conn.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	txs, err := postgres.NewTransactionRepository(env.db).ListByAccountID(context.Background(), accounts[0].ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	synced, err := env.connections.GetByID(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.NotNil(t, synced.LastSyncedAt)
}

func TestSyncConnectionCommand_RequiresID(t *testing.T) {
	env := newTestEnv(t)

	assert.Error(t, env.run(t, "sync-connection"))
}

func TestSyncConnectionCommand_Unknown(t *testing.T) {
	env := newTestEnv(t)

	err := env.run(t, "sync-connection", "--id", "missing")
	assert.ErrorIs(t, err, connection.ErrConnectionNotFound)
}

func TestSyncAllCommand(t *testing.T) {
	env := newTestEnv(t)
	env.linkConnection(t, "access-1")
	env.linkConnection(t, "access-2")

	require.NoError(t, env.run(t, "sync-all"))
	assert.Contains(t, env.out.String(), `"succeeded": 2`)
}

func TestSyncAllCommand_ReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.linkConnection(t, "access-1")
	env.linkConnection(t, "access-2")
	env.client.FailAccounts("access-2", aggregator.ErrUnavailable)

	err := env.run(t, "sync-all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 connections failed")
}

func TestUnlinkAccountCommand(t *testing.T) {
	env := newTestEnv(t)
	conn := env.linkConnection(t, "access-1")
	require.NoError(t, env.run(t, "sync-connection", "--id", conn.ID))

	accounts, err := postgres.NewAccountRepository(env.db).ListByConnectionID(context.Background(), conn.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	assert.ErrorIs(t, env.run(t, "unlink-account", "--user", "user-2", "--account", accounts[0].ID), account.ErrForbidden)

	require.NoError(t, env.run(t, "unlink-account", "--user", "user-1", "--account", accounts[0].ID))

	// The tombstone keeps the account from coming back.
	require.NoError(t, env.run(t, "sync-connection", "--id", conn.ID))
	accounts, err = postgres.NewAccountRepository(env.db).ListByConnectionID(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
