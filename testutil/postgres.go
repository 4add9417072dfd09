// Package testutil holds helpers shared by the package tests. Postgres helpers
// read TEST_DATABASE_URL and skip the calling test when it is unset.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pkordes/tripsync/backend/migrations"
)

// DatabaseURLEnv names the variable that opts tests into Postgres.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// NewPool connects to the test database and closes the pool on cleanup.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skip(DatabaseURLEnv + " not set; skipping Postgres test")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("testutil.NewPool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("testutil.NewPool: ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// NewTx begins a transaction on a fresh pool and rolls it back on cleanup,
// so ledger rows and documents written through it never outlive the test.
func NewTx(t *testing.T) pgx.Tx {
	t.Helper()
	tx, err := NewPool(t).Begin(context.Background())
	if err != nil {
		t.Fatalf("testutil.NewTx: begin: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	return tx
}

// PostgresMigrator returns a goose provider over the embedded Postgres
// migrations, sharing pool's connections. Close the returned func when done.
func PostgresMigrator(pool *pgxpool.Pool) (*goose.Provider, func(), error) {
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return provider, func() { _ = db.Close() }, nil
}

// MustMigrate brings the database at dsn up to the latest schema. TestMain
// functions call it before m.Run, where there is no *testing.T to fail.
func MustMigrate(dsn string) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		panic("testutil.MustMigrate: " + err.Error())
	}
	defer pool.Close()

	provider, closeDB, err := PostgresMigrator(pool)
	if err != nil {
		panic("testutil.MustMigrate: goose provider: " + err.Error())
	}
	defer closeDB()
	if _, err := provider.Up(ctx); err != nil {
		panic("testutil.MustMigrate: up: " + err.Error())
	}
}
