// Package docstore is the document-store abstraction the sync engine is built
// on: whole-document get/put/delete, key-set queries, real-time subscriptions
// and batched writes. Each backend lives in its own file with a constructor.
// Nothing here knows about trips.
package docstore

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"
)

// Ref addresses one document.
type Ref struct {
	Collection string
	ID         string
}

// String returns the slash-joined document path.
func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Document is a stored record. Data is the opaque JSON body; Keys are the
// string-set fields queries can filter on (e.g. "owner", "members").
//
// Version is assigned by the store and increments on every write. A Put with
// a non-zero Version only succeeds if the stored version still matches.
type Document struct {
	ID        string
	Data      json.RawMessage
	Keys      map[string][]string
	Version   int64
	UpdatedAt time.Time
}

// clone returns a copy that shares no memory with d.
func (d Document) clone() Document {
	c := d
	c.Data = slices.Clone(d.Data)
	if d.Keys != nil {
		c.Keys = make(map[string][]string, len(d.Keys))
		for k, v := range d.Keys {
			c.Keys[k] = slices.Clone(v)
		}
	}
	return c
}

// Filter matches documents whose key set Field contains Value.
type Filter struct {
	Field string
	Value string
}

// Has builds a Filter.
func Has(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

// Query selects documents of one collection. Filters are ANDed; a query with
// no filters selects the whole collection.
type Query struct {
	Collection string
	Where      []Filter
}

// Where builds a Query.
func Where(collection string, filters ...Filter) Query {
	return Query{Collection: collection, Where: filters}
}

// Matches reports whether d satisfies every filter of q.
func (q Query) Matches(d Document) bool {
	for _, f := range q.Where {
		if !slices.Contains(d.Keys[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// keyObject renders the filters as a JSON object of single-element arrays,
// the shape used for jsonb containment checks.
func (q Query) keyObject() map[string][]string {
	out := make(map[string][]string, len(q.Where))
	for _, f := range q.Where {
		out[f.Field] = append(out[f.Field], f.Value)
	}
	return out
}

// MutationKind says what a batched Mutation does.
type MutationKind int

const (
	MutationPut MutationKind = iota
	MutationDelete
)

// Mutation is one step of a BatchWrite. A non-zero Doc.Version is a
// precondition for both puts and deletes.
type Mutation struct {
	Kind MutationKind
	Ref  Ref
	Doc  Document
}

// PutOp returns a put mutation. Doc.Version acts as a precondition exactly as in Put.
func PutOp(ref Ref, doc Document) Mutation {
	return Mutation{Kind: MutationPut, Ref: ref, Doc: doc}
}

// DeleteOp returns a delete mutation. Deleting a missing document is not an error in a batch.
func DeleteOp(ref Ref) Mutation {
	return Mutation{Kind: MutationDelete, Ref: ref}
}

// DeleteIfOp returns a delete mutation that only applies while the stored
// version is still version; otherwise the whole batch fails with
// domain.ErrConflict (or domain.ErrNotFound when the document is gone).
func DeleteIfOp(ref Ref, version int64) Mutation {
	return Mutation{Kind: MutationDelete, Ref: ref, Doc: Document{Version: version}}
}

// collections returns the distinct collections touched by ms.
func collections(ms []Mutation) []string {
	set := map[string]struct{}{}
	for _, m := range ms {
		set[m.Ref.Collection] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Store is the document store consumed by the repos.
//
// Get and Delete return domain.ErrNotFound for a missing document.
// Put returns domain.ErrConflict when doc.Version is non-zero and no longer
// matches the stored version.
type Store interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	Put(ctx context.Context, ref Ref, doc Document) (Document, error)
	Delete(ctx context.Context, ref Ref) error
	Find(ctx context.Context, q Query) ([]Document, error)

	// Watch emits the full result of q now and again whenever it changes.
	Watch(ctx context.Context, q Query) (*Subscription, error)

	// WatchDoc emits the document now and whenever it changes. A snapshot
	// with no documents means the document does not exist (yet, or any more).
	WatchDoc(ctx context.Context, ref Ref) (*Subscription, error)

	// BatchWrite applies every mutation or none of them.
	BatchWrite(ctx context.Context, ms []Mutation) error

	Close() error
}

// Snapshot is one emission of a subscription. Err is set when the backend
// failed to produce a result; the subscription keeps running and resumes.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Subscription is a live stream of snapshots. C is closed after Cancel or when
// the context passed to Watch is done.
type Subscription struct {
	C <-chan Snapshot

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(ctx context.Context) (*Subscription, context.Context, chan Snapshot) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Snapshot, 1)
	return &Subscription{C: ch, cancel: cancel, done: make(chan struct{})}, ctx, ch
}

// Cancel stops the stream and waits until its goroutine has exited, so no
// snapshot is delivered after Cancel returns.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		// Drain so a producer blocked on send can observe the cancellation.
		go func() {
			for range s.C {
			}
		}()
	})
	<-s.done
}

// emitter sends snapshots on a subscription channel, suppressing a result
// identical to the previous one.
type emitter struct {
	out  chan<- Snapshot
	last []Document
	sent bool
}

// emit delivers snap unless it repeats the last delivered result. It returns
// false when ctx is done.
func (e *emitter) emit(ctx context.Context, snap Snapshot) bool {
	if snap.Err == nil {
		if e.sent && sameDocs(e.last, snap.Docs) {
			return true
		}
		e.last = snap.Docs
		e.sent = true
	}
	select {
	case e.out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

func sameDocs(a, b []Document) bool {
	return slices.EqualFunc(a, b, func(x, y Document) bool {
		return x.ID == y.ID && x.Version == y.Version && string(x.Data) == string(y.Data)
	})
}

func sortDocs(docs []Document) {
	slices.SortFunc(docs, func(a, b Document) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
