package testutil_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/migrations"
	"github.com/pkordes/tripsync/backend/testutil"
)

// Migrations must apply cleanly from scratch and roll all the way back.

func TestPostgresMigrations_UpAndDown(t *testing.T) {
	pool := testutil.NewPool(t)
	provider, closeDB, err := testutil.PostgresMigrator(pool)
	require.NoError(t, err)
	t.Cleanup(closeDB)
	ctx := context.Background()

	// Other packages' TestMain may have migrated the shared database already.
	_, err = provider.DownTo(ctx, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = provider.Up(ctx) })

	results, err := provider.Up(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	tableExists := func(name string) bool {
		var ok bool
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			name).Scan(&ok))
		return ok
	}
	assert.True(t, tableExists("documents"))
	assert.True(t, tableExists("expenses"))

	var triggers int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.triggers WHERE trigger_name = 'documents_changed'`).Scan(&triggers))
	assert.Positive(t, triggers, "change notifications drive the live listeners")

	_, err = provider.DownTo(ctx, 0)
	require.NoError(t, err)
	assert.False(t, tableExists("documents"))
	assert.False(t, tableExists("expenses"))
}

func TestSQLiteMigrations_UpAndDown(t *testing.T) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.SQLiteFS)
	require.NoError(t, err)
	ctx := context.Background()

	results, err := provider.Up(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, updated_at) VALUES ('trips', 't1', '{}', '2025-06-01T00:00:00Z')`)
	require.NoError(t, err)

	var version int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT version FROM documents WHERE id = 't1'`).Scan(&version))
	assert.EqualValues(t, 1, version)

	_, err = provider.DownTo(ctx, 0)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `SELECT 1 FROM documents`)
	assert.Error(t, err)
}
