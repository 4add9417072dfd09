package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// Firestore document layout: the JSON body is kept as a string so the store
// stays schema-less, and every key set becomes an array field prefixed with
// keyPrefix so it can be used with array-contains.
const (
	fieldData    = "data"
	fieldVersion = "version"
	keyPrefix    = "k_"
)

// Firestore is a Store backed by Cloud Firestore, using its native snapshot
// listeners for subscriptions.
type Firestore struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestore wraps an already authenticated client. The client is owned by
// the caller.
func NewFirestore(client *firestore.Client, logger *slog.Logger) *Firestore {
	if logger == nil {
		logger = slog.Default()
	}
	return &Firestore{client: client, logger: logger}
}

func (f *Firestore) doc(ref Ref) *firestore.DocumentRef {
	return f.client.Collection(ref.Collection).Doc(ref.ID)
}

// Get retrieves one document.
func (f *Firestore) Get(ctx context.Context, ref Ref) (Document, error) {
	snap, err := f.doc(ref).Get(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.Firestore.Get %s: %w", ref, mapFirestoreErr(err))
	}
	d, err := fromSnapshot(snap)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.Firestore.Get %s: %w", ref, err)
	}
	return d, nil
}

// Put writes the document in a transaction that reads the current version
// first, so version preconditions hold across concurrent writers.
func (f *Firestore) Put(ctx context.Context, ref Ref, doc Document) (Document, error) {
	var stored Document
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var err error
		stored, err = f.putTx(tx, ref, doc)
		return err
	})
	if err != nil {
		return Document{}, fmt.Errorf("docstore.Firestore.Put %s: %w", ref, mapFirestoreErr(err))
	}
	return stored, nil
}

func (f *Firestore) putTx(tx *firestore.Transaction, ref Ref, doc Document) (Document, error) {
	var current int64
	snap, err := tx.Get(f.doc(ref))
	switch {
	case status.Code(err) == codes.NotFound:
		if doc.Version != 0 {
			return Document{}, domain.ErrNotFound
		}
	case err != nil:
		return Document{}, err
	default:
		existing, err := fromSnapshot(snap)
		if err != nil {
			return Document{}, err
		}
		current = existing.Version
		if doc.Version != 0 && current != doc.Version {
			return Document{}, domain.ErrConflict
		}
	}

	stored := doc.clone()
	stored.ID = ref.ID
	stored.Version = current + 1
	if err := tx.Set(f.doc(ref), toFields(stored)); err != nil {
		return Document{}, err
	}
	return stored, nil
}

// Delete removes the document.
func (f *Firestore) Delete(ctx context.Context, ref Ref) error {
	_, err := f.doc(ref).Delete(ctx, firestore.Exists)
	if err != nil {
		return fmt.Errorf("docstore.Firestore.Delete %s: %w", ref, mapFirestoreErr(err))
	}
	return nil
}

// query translates q. Firestore allows a single array-contains per query, so
// only the first filter runs server-side; the rest are applied by Matches.
func (f *Firestore) query(q Query) firestore.Query {
	fq := f.client.Collection(q.Collection).Query
	if len(q.Where) > 0 {
		first := q.Where[0]
		fq = fq.Where(keyPrefix+first.Field, "array-contains", first.Value)
	}
	return fq
}

// Find runs q once.
func (f *Firestore) Find(ctx context.Context, q Query) ([]Document, error) {
	docs, err := collect(f.query(q).Documents(ctx), q)
	if err != nil {
		return nil, fmt.Errorf("docstore.Firestore.Find %s: %w", q.Collection, err)
	}
	return docs, nil
}

func collect(it *firestore.DocumentIterator, q Query) ([]Document, error) {
	defer it.Stop()
	var docs []Document
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		d, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		if q.Matches(d) {
			docs = append(docs, d)
		}
	}
	sortDocs(docs)
	return docs, nil
}

// Watch subscribes to q through a query snapshot listener. A listener that
// fails is reopened with backoff after the error has been emitted.
func (f *Firestore) Watch(ctx context.Context, q Query) (*Subscription, error) {
	return f.listen(ctx, q.Collection, func(ctx context.Context, e *emitter) error {
		it := f.query(q).Snapshots(ctx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return err
			}
			docs, err := collect(qs.Documents, q)
			if err != nil {
				return err
			}
			if !e.emit(ctx, Snapshot{Docs: docs}) {
				return ctx.Err()
			}
		}
	}), nil
}

// WatchDoc subscribes to one document through a document snapshot listener.
func (f *Firestore) WatchDoc(ctx context.Context, ref Ref) (*Subscription, error) {
	return f.listen(ctx, ref.Collection, func(ctx context.Context, e *emitter) error {
		it := f.doc(ref).Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return err
			}
			var docs []Document
			if snap.Exists() {
				d, err := fromSnapshot(snap)
				if err != nil {
					return err
				}
				docs = []Document{d}
			}
			if !e.emit(ctx, Snapshot{Docs: docs}) {
				return ctx.Err()
			}
		}
	}), nil
}

// listen runs stream until the subscription ends, reopening it with backoff
// whenever it fails.
func (f *Firestore) listen(ctx context.Context, collection string, stream func(context.Context, *emitter) error) *Subscription {
	sub, ctx, out := newSubscription(ctx)
	go func() {
		defer close(sub.done)
		defer close(out)

		e := &emitter{out: out}
		backoff := newBackoff()
		for {
			err := stream(ctx, e)
			if ctx.Err() != nil {
				return
			}
			f.logger.WarnContext(ctx, "docstore: firestore listener failed",
				"collection", collection, "error", err)
			if !e.emit(ctx, Snapshot{Err: mapFirestoreErr(err)}) {
				return
			}
			wait, _ := backoff.Next()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
	return sub
}

// BatchWrite applies every mutation in one transaction. All reads happen
// before the first write, as Firestore transactions require.
func (f *Firestore) BatchWrite(ctx context.Context, ms []Mutation) error {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		versions := make([]int64, len(ms))
		for i, m := range ms {
			if m.Kind == MutationDelete && m.Doc.Version == 0 {
				continue
			}
			snap, err := tx.Get(f.doc(m.Ref))
			switch {
			case status.Code(err) == codes.NotFound:
				if m.Doc.Version != 0 {
					return fmt.Errorf("%s: %w", m.Ref, domain.ErrNotFound)
				}
			case err != nil:
				return err
			default:
				existing, err := fromSnapshot(snap)
				if err != nil {
					return err
				}
				if m.Doc.Version != 0 && existing.Version != m.Doc.Version {
					return fmt.Errorf("%s: %w", m.Ref, domain.ErrConflict)
				}
				versions[i] = existing.Version
			}
		}
		for i, m := range ms {
			switch m.Kind {
			case MutationPut:
				stored := m.Doc.clone()
				stored.Version = versions[i] + 1
				if err := tx.Set(f.doc(m.Ref), toFields(stored)); err != nil {
					return err
				}
			case MutationDelete:
				if err := tx.Delete(f.doc(m.Ref)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("docstore.Firestore.BatchWrite: %w", mapFirestoreErr(err))
	}
	return nil
}

// Close is a no-op; listeners stop with their subscriptions and the client
// belongs to the caller.
func (f *Firestore) Close() error { return nil }

func toFields(d Document) map[string]any {
	fields := map[string]any{
		fieldData:    string(d.Data),
		fieldVersion: d.Version,
		"updatedAt":  firestore.ServerTimestamp,
	}
	for k, v := range d.Keys {
		if v == nil {
			v = []string{}
		}
		fields[keyPrefix+k] = v
	}
	return fields
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (Document, error) {
	d := Document{ID: snap.Ref.ID, UpdatedAt: snap.UpdateTime, Keys: map[string][]string{}}
	for k, v := range snap.Data() {
		switch {
		case k == fieldData:
			s, ok := v.(string)
			if !ok {
				return Document{}, fmt.Errorf("field %q: unexpected type %T", k, v)
			}
			d.Data = []byte(s)
		case k == fieldVersion:
			n, ok := v.(int64)
			if !ok {
				return Document{}, fmt.Errorf("field %q: unexpected type %T", k, v)
			}
			d.Version = n
		case strings.HasPrefix(k, keyPrefix):
			items, _ := v.([]any)
			set := make([]string, 0, len(items))
			for _, item := range items {
				if s, ok := item.(string); ok {
					set = append(set, s)
				}
			}
			d.Keys[strings.TrimPrefix(k, keyPrefix)] = set
		}
	}
	return d, nil
}

// mapFirestoreErr translates gRPC status codes into domain sentinels.
func mapFirestoreErr(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

var _ Store = (*Firestore)(nil)
