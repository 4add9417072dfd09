package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// notifyChannel is the LISTEN channel fed by the documents_changed trigger.
// The payload is the collection that changed.
const notifyChannel = "documents_changed"

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface lets integration tests run against a transaction
// that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is a Store backed by the documents table. Subscriptions are
// driven by LISTEN/NOTIFY so writes from any process reach every watcher.
type Postgres struct {
	db     db
	pool   *pgxpool.Pool
	hub    *hub
	logger *slog.Logger
	stop   context.CancelFunc
	done   chan struct{}
}

// NewPostgres constructs a Postgres store. When pool is non-nil a background
// listener is started on a dedicated connection; pass a nil pool with a pgx.Tx
// as db in tests that do not need cross-connection notifications.
func NewPostgres(db db, pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Postgres{db: db, pool: pool, hub: newHub(logger), logger: logger, done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	if pool == nil {
		close(p.done)
		return p
	}
	go p.listen(ctx)
	return p
}

// Get retrieves one document by primary key.
func (p *Postgres) Get(ctx context.Context, ref Ref) (Document, error) {
	const q = `
		SELECT id, data::text, keys::text, version, updated_at
		FROM documents
		WHERE collection = @collection AND id = @id`

	row := p.db.QueryRow(ctx, q, pgx.NamedArgs{"collection": ref.Collection, "id": ref.ID})
	d, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.Postgres.Get %s: %w", ref, err)
	}
	return d, nil
}

// Put upserts the document. A non-zero doc.Version turns the upsert into a
// conditional UPDATE on the stored version.
func (p *Postgres) Put(ctx context.Context, ref Ref, doc Document) (Document, error) {
	stored, err := putDocument(ctx, p.db, ref, doc)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.Postgres.Put %s: %w", ref, err)
	}
	p.hub.notify(ref.Collection)
	return stored, nil
}

func putDocument(ctx context.Context, q db, ref Ref, doc Document) (Document, error) {
	keys, err := json.Marshal(nonNilKeys(doc.Keys))
	if err != nil {
		return Document{}, err
	}
	args := pgx.NamedArgs{
		"collection": ref.Collection,
		"id":         ref.ID,
		"data":       string(doc.Data),
		"keys":       string(keys),
		"expected":   doc.Version,
	}

	if doc.Version == 0 {
		const upsert = `
			INSERT INTO documents (collection, id, data, keys)
			VALUES (@collection, @id, @data::jsonb, @keys::jsonb)
			ON CONFLICT (collection, id) DO UPDATE
			SET data       = EXCLUDED.data,
			    keys       = EXCLUDED.keys,
			    version    = documents.version + 1,
			    updated_at = now()
			RETURNING id, data::text, keys::text, version, updated_at`
		return scanDocument(q.QueryRow(ctx, upsert, args))
	}

	const update = `
		UPDATE documents
		SET data       = @data::jsonb,
		    keys       = @keys::jsonb,
		    version    = version + 1,
		    updated_at = now()
		WHERE collection = @collection AND id = @id AND version = @expected
		RETURNING id, data::text, keys::text, version, updated_at`
	stored, err := scanDocument(q.QueryRow(ctx, update, args))
	if !errors.Is(err, domain.ErrNotFound) {
		return stored, err
	}

	// No row updated: either the document is gone or someone else wrote first.
	var exists bool
	const probe = `SELECT EXISTS (SELECT 1 FROM documents WHERE collection = @collection AND id = @id)`
	if err := q.QueryRow(ctx, probe, args).Scan(&exists); err != nil {
		return Document{}, err
	}
	if exists {
		return Document{}, domain.ErrConflict
	}
	return Document{}, domain.ErrNotFound
}

// deleteDocument removes ref inside a batch. Missing documents are ignored
// unless version is non-zero, in which case it must match the stored version.
func deleteDocument(ctx context.Context, q db, ref Ref, version int64) error {
	args := pgx.NamedArgs{"collection": ref.Collection, "id": ref.ID, "expected": version}
	if version == 0 {
		_, err := q.Exec(ctx, `DELETE FROM documents WHERE collection = @collection AND id = @id`, args)
		return err
	}

	const conditional = `DELETE FROM documents WHERE collection = @collection AND id = @id AND version = @expected`
	tag, err := q.Exec(ctx, conditional, args)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	const probe = `SELECT EXISTS (SELECT 1 FROM documents WHERE collection = @collection AND id = @id)`
	if err := q.QueryRow(ctx, probe, args).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return domain.ErrConflict
	}
	return domain.ErrNotFound
}

// Delete removes a document by primary key.
func (p *Postgres) Delete(ctx context.Context, ref Ref) error {
	const q = `DELETE FROM documents WHERE collection = @collection AND id = @id`

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{"collection": ref.Collection, "id": ref.ID})
	if err != nil {
		return fmt.Errorf("docstore.Postgres.Delete %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("docstore.Postgres.Delete %s: %w", ref, domain.ErrNotFound)
	}
	p.hub.notify(ref.Collection)
	return nil
}

// Find returns matching documents ordered by id. Filters are evaluated by
// jsonb containment on the keys column, which the GIN index serves.
func (p *Postgres) Find(ctx context.Context, q Query) ([]Document, error) {
	const sql = `
		SELECT id, data::text, keys::text, version, updated_at
		FROM documents
		WHERE collection = @collection AND keys @> @filter::jsonb
		ORDER BY id`

	filter, err := json.Marshal(q.keyObject())
	if err != nil {
		return nil, fmt.Errorf("docstore.Postgres.Find: %w", err)
	}
	rows, err := p.db.Query(ctx, sql, pgx.NamedArgs{"collection": q.Collection, "filter": string(filter)})
	if err != nil {
		return nil, fmt.Errorf("docstore.Postgres.Find: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore.Postgres.Find: scan: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore.Postgres.Find: rows: %w", err)
	}
	return docs, nil
}

// Watch subscribes to q.
func (p *Postgres) Watch(ctx context.Context, q Query) (*Subscription, error) {
	return p.hub.watch(ctx, q.Collection, func(ctx context.Context) ([]Document, error) {
		return p.Find(ctx, q)
	}), nil
}

// WatchDoc subscribes to one document.
func (p *Postgres) WatchDoc(ctx context.Context, ref Ref) (*Subscription, error) {
	return p.hub.watch(ctx, ref.Collection, func(ctx context.Context) ([]Document, error) {
		d, err := p.Get(ctx, ref)
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
func (p *Postgres) BatchWrite(ctx context.Context, ms []Mutation) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("docstore.Postgres.BatchWrite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range ms {
		switch m.Kind {
		case MutationPut:
			if _, err := putDocument(ctx, tx, m.Ref, m.Doc); err != nil {
				return fmt.Errorf("docstore.Postgres.BatchWrite %s: %w", m.Ref, err)
			}
		case MutationDelete:
			if err := deleteDocument(ctx, tx, m.Ref, m.Doc.Version); err != nil {
				return fmt.Errorf("docstore.Postgres.BatchWrite %s: %w", m.Ref, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("docstore.Postgres.BatchWrite: commit: %w", err)
	}
	p.hub.notify(collections(ms)...)
	return nil
}

// Close stops the listener and cancels every subscription.
// The pool itself is owned and closed by the caller.
func (p *Postgres) Close() error {
	p.stop()
	<-p.done
	p.hub.close()
	return nil
}

// listen holds one pooled connection in LISTEN mode and kicks watchers on
// every notification. A dropped connection is re-established with backoff and
// all watchers are kicked, since notifications may have been missed meanwhile.
func (p *Postgres) listen(ctx context.Context) {
	defer close(p.done)
	for ctx.Err() == nil {
		err := retry.Do(ctx, newBackoff(), func(ctx context.Context) error {
			if err := p.listenOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("docstore: listener disconnected", "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			p.logger.Error("docstore: listener gave up", "error", err)
			time.Sleep(time.Second)
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	p.hub.notifyAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		p.hub.notify(n.Payload)
	}
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument maps one row into a Document.
func scanDocument(s scanner) (Document, error) {
	var (
		d    Document
		data string
		keys string
	)
	if err := s.Scan(&d.ID, &data, &keys, &d.Version, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, domain.ErrNotFound
		}
		return Document{}, err
	}
	d.Data = json.RawMessage(data)
	if err := json.Unmarshal([]byte(keys), &d.Keys); err != nil {
		return Document{}, fmt.Errorf("decode keys: %w", err)
	}
	return d, nil
}

func nonNilKeys(k map[string][]string) map[string][]string {
	if k == nil {
		return map[string][]string{}
	}
	return k
}

var _ Store = (*Postgres)(nil)
