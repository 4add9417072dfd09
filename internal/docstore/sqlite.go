package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/pressly/goose/v3"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/migrations"
)

// SQLite is a single-node Store kept in one database file. Subscriptions are
// served in-process, so only writes made through this Store reach watchers.
type SQLite struct {
	db  *sql.DB
	hub *hub
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("docstore.OpenSQLite: open: %w", err)
	}
	// One writer at a time; readers queue behind it instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.SQLiteFS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore.OpenSQLite: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore.OpenSQLite: migrate: %w", err)
	}
	return &SQLite{db: db, hub: newHub(logger)}, nil
}

// Get retrieves one document.
func (s *SQLite) Get(ctx context.Context, ref Ref) (Document, error) {
	d, err := s.get(ctx, s.db, ref)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.SQLite.Get %s: %w", ref, err)
	}
	return d, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) get(ctx context.Context, q querier, ref Ref) (Document, error) {
	const stmt = `
		SELECT id, data, keys, version, updated_at
		FROM documents
		WHERE collection = ? AND id = ?`
	return scanSQLiteDocument(q.QueryRowContext(ctx, stmt, ref.Collection, ref.ID))
}

// Put upserts the document inside a transaction so the version check and the
// write cannot interleave with another writer.
func (s *SQLite) Put(ctx context.Context, ref Ref, doc Document) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.SQLite.Put %s: begin: %w", ref, err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := s.put(ctx, tx, ref, doc)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.SQLite.Put %s: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("docstore.SQLite.Put %s: commit: %w", ref, err)
	}
	s.hub.notify(ref.Collection)
	return stored, nil
}

func (s *SQLite) put(ctx context.Context, q querier, ref Ref, doc Document) (Document, error) {
	current, err := s.get(ctx, q, ref)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Document{}, err
	}
	if doc.Version != 0 {
		if !exists {
			return Document{}, domain.ErrNotFound
		}
		if current.Version != doc.Version {
			return Document{}, domain.ErrConflict
		}
	}

	keys, err := json.Marshal(nonNilKeys(doc.Keys))
	if err != nil {
		return Document{}, err
	}
	stored := doc.clone()
	stored.ID = ref.ID
	stored.Version = current.Version + 1
	stored.UpdatedAt = time.Now().UTC()

	const stmt = `
		INSERT INTO documents (collection, id, data, keys, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = excluded.data, keys = excluded.keys,
		    version = excluded.version, updated_at = excluded.updated_at`
	_, err = q.ExecContext(ctx, stmt, ref.Collection, ref.ID, string(stored.Data), string(keys),
		stored.Version, stored.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Document{}, err
	}
	return stored, nil
}

// Delete removes the document.
func (s *SQLite) Delete(ctx context.Context, ref Ref) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("docstore.SQLite.Delete %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore.SQLite.Delete %s: %w", ref, domain.ErrNotFound)
	}
	s.hub.notify(ref.Collection)
	return nil
}

// Find loads the collection and filters it on the decoded key sets.
func (s *SQLite) Find(ctx context.Context, q Query) ([]Document, error) {
	const stmt = `
		SELECT id, data, keys, version, updated_at
		FROM documents
		WHERE collection = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, stmt, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("docstore.SQLite.Find: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore.SQLite.Find: scan: %w", err)
		}
		if q.Matches(d) {
			docs = append(docs, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore.SQLite.Find: rows: %w", err)
	}
	return docs, nil
}

// Watch subscribes to q.
func (s *SQLite) Watch(ctx context.Context, q Query) (*Subscription, error) {
	return s.hub.watch(ctx, q.Collection, func(ctx context.Context) ([]Document, error) {
		return s.Find(ctx, q)
	}), nil
}

// WatchDoc subscribes to one document.
func (s *SQLite) WatchDoc(ctx context.Context, ref Ref) (*Subscription, error) {
	return s.hub.watch(ctx, ref.Collection, func(ctx context.Context) ([]Document, error) {
		d, err := s.Get(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Document{d}, nil
	}), nil
}

// BatchWrite applies all mutations in one transaction.
func (s *SQLite) BatchWrite(ctx context.Context, ms []Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore.SQLite.BatchWrite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range ms {
		switch m.Kind {
		case MutationPut:
			if _, err := s.put(ctx, tx, m.Ref, m.Doc); err != nil {
				return fmt.Errorf("docstore.SQLite.BatchWrite %s: %w", m.Ref, err)
			}
		case MutationDelete:
			if err := s.deleteIf(ctx, tx, m.Ref, m.Doc.Version); err != nil {
				return fmt.Errorf("docstore.SQLite.BatchWrite %s: %w", m.Ref, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore.SQLite.BatchWrite: commit: %w", err)
	}
	s.hub.notify(collections(ms)...)
	return nil
}

// deleteIf removes ref; a non-zero version must match the stored one.
func (s *SQLite) deleteIf(ctx context.Context, q querier, ref Ref, version int64) error {
	if version != 0 {
		current, err := s.get(ctx, q, ref)
		if err != nil {
			return err
		}
		if current.Version != version {
			return domain.ErrConflict
		}
	}
	_, err := q.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, ref.Collection, ref.ID)
	return err
}

// Close cancels subscriptions and closes the database.
func (s *SQLite) Close() error {
	s.hub.close()
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(s rowScanner) (Document, error) {
	var (
		d         Document
		data      string
		keys      string
		updatedAt string
	)
	if err := s.Scan(&d.ID, &data, &keys, &d.Version, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, domain.ErrNotFound
		}
		return Document{}, err
	}
	d.Data = json.RawMessage(data)
	if err := json.Unmarshal([]byte(keys), &d.Keys); err != nil {
		return Document{}, fmt.Errorf("decode keys: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("decode updated_at: %w", err)
	}
	d.UpdatedAt = t
	return d, nil
}

var _ Store = (*SQLite)(nil)
