// Package migrations embeds the SQL migration files so they can be used
// by the goose programmatic API in tests and server bootstrap.
package migrations

import (
	"embed"
	"io/fs"
)

// FS holds the Postgres *.sql migration files embedded at compile time.
// Pass this to goose.NewProvider instead of relying on a filesystem path at runtime.
//
//go:embed *.sql
var FS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// SQLiteFS holds the migrations for the embedded SQLite document store,
// rooted so goose sees the files at the top level.
var SQLiteFS = mustSub(sqliteFS, "sqlite")

func mustSub(f fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(f, dir)
	if err != nil {
		panic("migrations: " + err.Error())
	}
	return sub
}
