// Package repo maps domain types onto the document store. Each resource has
// its own file with an interface and an implementation over docstore.Store;
// the expense ledger additionally has a Postgres implementation.
// No business rules live here, only layout, encoding and queries.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/tripsync/backend/internal/docstore"
	"github.com/pkordes/tripsync/backend/internal/domain"
)

// Collection layout.
const (
	SharedTripsCollection = "shared-trips"
	InvitationsCollection = "trip-invitations"
	ExpensesCollection    = "expenses"
)

// Key set names used for queries.
const (
	keyOwner   = "owner"
	keyMembers = "members"
	keyInvitee = "invitee"
	keyStatus  = "status"
	keyTrip    = "trip"
)

// OwnedCollection is the private collection holding uid's unshared trips.
func OwnedCollection(uid string) string {
	return "users/" + uid + "/trips"
}

// TripRef locates a trip document. Owned trips are addressed through their
// owner's collection; shared trips by id alone.
type TripRef struct {
	Kind    domain.TripKind
	OwnerID string
	ID      string
}

// RefOf returns the location of rec.
func RefOf(rec domain.TripRecord) TripRef {
	return TripRef{Kind: rec.Kind, OwnerID: rec.OwnerID, ID: rec.ID}
}

func (r TripRef) doc() docstore.Ref {
	switch r.Kind {
	case domain.KindShared:
		return docstore.Ref{Collection: SharedTripsCollection, ID: r.ID}
	default:
		return docstore.Ref{Collection: OwnedCollection(r.OwnerID), ID: r.ID}
	}
}

// TripRepo defines the persistence operations for trips.
// The engine depends on this interface, not the docstore-backed implementation,
// which allows it to be unit-tested with a mock.
type TripRepo interface {
	// Get retrieves one trip. Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, ref TripRef) (domain.TripRecord, error)

	// Save writes the whole trip. A local or empty id is replaced with a
	// store id and CreatedAt is set. A non-zero rec.Version must match the
	// stored version or domain.ErrConflict is returned.
	Save(ctx context.Context, rec domain.TripRecord) (domain.TripRecord, error)

	// Delete removes a trip. Returns domain.ErrNotFound if it does not exist.
	Delete(ctx context.Context, ref TripRef) error

	// ListOwned returns uid's unshared trips.
	ListOwned(ctx context.Context, uid string) ([]domain.TripRecord, error)

	// ListShared returns every shared trip uid is a member of, owned or not.
	ListShared(ctx context.Context, uid string) ([]domain.TripRecord, error)

	WatchOwned(ctx context.Context, uid string) (*Stream[domain.TripRecord], error)
	WatchShared(ctx context.Context, uid string) (*Stream[domain.TripRecord], error)

	// WatchTrip follows one trip. An event with no items means it was deleted.
	WatchTrip(ctx context.Context, ref TripRef) (*Stream[domain.TripRecord], error)

	// Locate finds trip id visible to uid in either collection.
	Locate(ctx context.Context, uid, id string) (domain.TripRecord, error)

	// Promote moves an owned trip into the shared collection and writes the
	// given invitations in the same batch.
	Promote(ctx context.Context, rec domain.TripRecord, invitations ...domain.TripInvitation) (domain.TripRecord, error)
}

// docTripRepo is the docstore implementation of TripRepo.
type docTripRepo struct {
	store docstore.Store
	now   func() time.Time
}

// NewTripRepo constructs a TripRepo backed by the provided store.
func NewTripRepo(store docstore.Store) TripRepo {
	return &docTripRepo{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Get retrieves a trip by location.
func (r *docTripRepo) Get(ctx context.Context, ref TripRef) (domain.TripRecord, error) {
	d, err := r.store.Get(ctx, ref.doc())
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Get: %w", err)
	}
	rec, err := decodeTrip(ref.Kind, d)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Get: %w", err)
	}
	return rec, nil
}

// Save writes the trip and returns it as stored.
func (r *docTripRepo) Save(ctx context.Context, rec domain.TripRecord) (domain.TripRecord, error) {
	rec = r.stamp(rec)
	d, err := encodeTrip(rec)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Save: %w", err)
	}
	stored, err := r.store.Put(ctx, RefOf(rec).doc(), d)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Save: %w", err)
	}
	out, err := decodeTrip(rec.Kind, stored)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Save: %w", err)
	}
	return out, nil
}

// stamp assigns a store id to a new trip and refreshes the timestamps.
func (r *docTripRepo) stamp(rec domain.TripRecord) domain.TripRecord {
	rec.Trip = rec.Trip.Clone()
	now := r.now()
	if domain.IsLocalID(rec.ID) {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		rec.Version = 0
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Kind == "" {
		rec.Kind = domain.KindOwned
	}
	return rec
}

// Delete removes a trip.
func (r *docTripRepo) Delete(ctx context.Context, ref TripRef) error {
	if err := r.store.Delete(ctx, ref.doc()); err != nil {
		return fmt.Errorf("repo.TripRepo.Delete: %w", err)
	}
	return nil
}

func ownedQuery(uid string) docstore.Query {
	return docstore.Where(OwnedCollection(uid))
}

func sharedQuery(uid string) docstore.Query {
	return docstore.Where(SharedTripsCollection, docstore.Has(keyMembers, uid))
}

// ListOwned returns uid's unshared trips.
func (r *docTripRepo) ListOwned(ctx context.Context, uid string) ([]domain.TripRecord, error) {
	docs, err := r.store.Find(ctx, ownedQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListOwned: %w", err)
	}
	recs, err := decodeTrips(domain.KindOwned)(docs)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListOwned: %w", err)
	}
	return recs, nil
}

// ListShared returns the shared trips uid is a member of.
func (r *docTripRepo) ListShared(ctx context.Context, uid string) ([]domain.TripRecord, error) {
	docs, err := r.store.Find(ctx, sharedQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListShared: %w", err)
	}
	recs, err := decodeTrips(domain.KindShared)(docs)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListShared: %w", err)
	}
	return recs, nil
}

// WatchOwned streams uid's unshared trips.
func (r *docTripRepo) WatchOwned(ctx context.Context, uid string) (*Stream[domain.TripRecord], error) {
	sub, err := r.store.Watch(ctx, ownedQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.WatchOwned: %w", err)
	}
	return newStream(sub, decodeTrips(domain.KindOwned)), nil
}

// WatchShared streams the shared trips uid is a member of.
func (r *docTripRepo) WatchShared(ctx context.Context, uid string) (*Stream[domain.TripRecord], error) {
	sub, err := r.store.Watch(ctx, sharedQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.WatchShared: %w", err)
	}
	return newStream(sub, decodeTrips(domain.KindShared)), nil
}

// WatchTrip streams one trip document.
func (r *docTripRepo) WatchTrip(ctx context.Context, ref TripRef) (*Stream[domain.TripRecord], error) {
	sub, err := r.store.WatchDoc(ctx, ref.doc())
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.WatchTrip: %w", err)
	}
	return newStream(sub, decodeTrips(ref.Kind)), nil
}

// Locate looks the trip up in the shared collection first, since a promoted
// trip may still linger in a stale owned listing, then in uid's own collection.
func (r *docTripRepo) Locate(ctx context.Context, uid, id string) (domain.TripRecord, error) {
	rec, err := r.Get(ctx, TripRef{Kind: domain.KindShared, ID: id})
	if err == nil {
		return rec, nil
	}
	if !isNotFound(err) {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Locate: %w", err)
	}
	rec, err = r.Get(ctx, TripRef{Kind: domain.KindOwned, OwnerID: uid, ID: id})
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Locate: %w", err)
	}
	return rec, nil
}

// Promote copies an owned trip into the shared collection, deletes the
// private copy and writes invitations, all in one batch. The private copy's
// version is used as a precondition so a concurrent edit is not lost.
func (r *docTripRepo) Promote(ctx context.Context, rec domain.TripRecord, invitations ...domain.TripInvitation) (domain.TripRecord, error) {
	if rec.Kind != domain.KindOwned {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Promote: %w: trip %s is already shared", domain.ErrValidation, rec.ID)
	}
	private := RefOf(rec)

	shared := r.stamp(rec)
	shared.Kind = domain.KindShared
	shared.Version = 0
	d, err := encodeTrip(shared)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Promote: %w", err)
	}

	ops := []docstore.Mutation{
		docstore.PutOp(RefOf(shared).doc(), d),
		docstore.DeleteIfOp(private.doc(), rec.Version),
	}
	for _, inv := range invitations {
		op, err := invitationPut(inv)
		if err != nil {
			return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Promote: %w", err)
		}
		ops = append(ops, op)
	}
	if err := r.store.BatchWrite(ctx, ops); err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Promote: %w", err)
	}

	out, err := r.Get(ctx, RefOf(shared))
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Promote: %w", err)
	}
	return out, nil
}

// ---- encoding ----

// encodeTrip renders the stored body and its key sets. Version travels on the
// document, not in the body.
func encodeTrip(rec domain.TripRecord) (docstore.Document, error) {
	body := rec.Trip
	body.Version = 0
	data, err := json.Marshal(body)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("encode trip %s: %w", rec.ID, err)
	}
	keys := map[string][]string{keyOwner: {rec.OwnerID}}
	if rec.Kind == domain.KindShared {
		keys[keyMembers] = rec.Members()
	}
	return docstore.Document{ID: rec.ID, Data: data, Keys: keys, Version: rec.Version}, nil
}

// decodeTrip is the single entry point for trips read from the store; it
// puts activities into canonical order.
func decodeTrip(kind domain.TripKind, d docstore.Document) (domain.TripRecord, error) {
	var t domain.Trip
	if err := json.Unmarshal(d.Data, &t); err != nil {
		return domain.TripRecord{}, fmt.Errorf("decode trip %s: %w", d.ID, err)
	}
	t.ID = d.ID
	t.Version = d.Version
	t.Activities = domain.SortChronologically(t.Activities)
	return domain.TripRecord{Trip: t, Kind: kind}, nil
}

func decodeTrips(kind domain.TripKind) func([]docstore.Document) ([]domain.TripRecord, error) {
	return func(docs []docstore.Document) ([]domain.TripRecord, error) {
		out := make([]domain.TripRecord, 0, len(docs))
		for _, d := range docs {
			rec, err := decodeTrip(kind, d)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
