package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/tripsync/backend/internal/docstore"
	"github.com/pkordes/tripsync/backend/internal/domain"
)

// InvitationRepo defines the persistence operations for trip invitations.
type InvitationRepo interface {
	// Get retrieves an invitation. Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (domain.TripInvitation, error)

	// Create assigns an id and creation time and writes a pending invitation.
	Create(ctx context.Context, inv domain.TripInvitation) (domain.TripInvitation, error)

	// SetStatus transitions an invitation and records who answered and when.
	SetStatus(ctx context.Context, id string, status domain.InvitationStatus, inviteeID string) (domain.TripInvitation, error)

	// ListPending returns the pending invitations addressed to email.
	ListPending(ctx context.Context, email string) ([]domain.TripInvitation, error)

	// WatchPending streams the pending invitations addressed to email.
	WatchPending(ctx context.Context, email string) (*Stream[domain.TripInvitation], error)

	// ListByTrip returns every invitation for a trip regardless of status.
	ListByTrip(ctx context.Context, tripID string) ([]domain.TripInvitation, error)

	// RevokePending marks every pending invitation of a trip revoked in one
	// batch and returns how many were changed.
	RevokePending(ctx context.Context, tripID string) (int, error)
}

// docInvitationRepo is the docstore implementation of InvitationRepo.
type docInvitationRepo struct {
	store docstore.Store
	now   func() time.Time
}

// NewInvitationRepo constructs an InvitationRepo backed by the provided store.
func NewInvitationRepo(store docstore.Store) InvitationRepo {
	return &docInvitationRepo{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func invitationRef(id string) docstore.Ref {
	return docstore.Ref{Collection: InvitationsCollection, ID: id}
}

// Get retrieves an invitation by id.
func (r *docInvitationRepo) Get(ctx context.Context, id string) (domain.TripInvitation, error) {
	d, err := r.store.Get(ctx, invitationRef(id))
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.Get: %w", err)
	}
	inv, err := decodeInvitation(d)
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.Get: %w", err)
	}
	return inv, nil
}

// Create writes a new pending invitation.
func (r *docInvitationRepo) Create(ctx context.Context, inv domain.TripInvitation) (domain.TripInvitation, error) {
	inv = NewInvitation(inv, r.now())
	op, err := invitationPut(inv)
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.Create: %w", err)
	}
	if _, err := r.store.Put(ctx, op.Ref, op.Doc); err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.Create: %w", err)
	}
	return inv, nil
}

// NewInvitation fills in the fields the store owns: id, status, creation time
// and the normalized invitee email. Callers that write invitations as part of
// a batch (TripRepo.Promote) use it before handing them over.
func NewInvitation(inv domain.TripInvitation, now time.Time) domain.TripInvitation {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.InviteeEmail = domain.NormalizeEmail(inv.InviteeEmail)
	inv.Status = domain.InvitationPending
	inv.CreatedAt = now
	inv.RespondedAt = nil
	return inv
}

// SetStatus rewrites the invitation with its new status. The read version is
// used as a precondition so two answers cannot both succeed.
func (r *docInvitationRepo) SetStatus(ctx context.Context, id string, status domain.InvitationStatus, inviteeID string) (domain.TripInvitation, error) {
	d, err := r.store.Get(ctx, invitationRef(id))
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.SetStatus: %w", err)
	}
	inv, err := decodeInvitation(d)
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.SetStatus: %w", err)
	}

	now := r.now()
	inv.Status = status
	inv.RespondedAt = &now
	if inviteeID != "" {
		inv.InviteeID = inviteeID
	}

	op, err := invitationPut(inv)
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.SetStatus: %w", err)
	}
	op.Doc.Version = d.Version
	if _, err := r.store.Put(ctx, op.Ref, op.Doc); err != nil {
		return domain.TripInvitation{}, fmt.Errorf("repo.InvitationRepo.SetStatus: %w", err)
	}
	return inv, nil
}

func pendingQuery(email string) docstore.Query {
	return docstore.Where(InvitationsCollection,
		docstore.Has(keyInvitee, domain.NormalizeEmail(email)),
		docstore.Has(keyStatus, string(domain.InvitationPending)),
	)
}

// ListPending returns pending invitations for email.
func (r *docInvitationRepo) ListPending(ctx context.Context, email string) ([]domain.TripInvitation, error) {
	docs, err := r.store.Find(ctx, pendingQuery(email))
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListPending: %w", err)
	}
	invs, err := decodeInvitations(docs)
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListPending: %w", err)
	}
	return invs, nil
}

// WatchPending streams pending invitations for email.
func (r *docInvitationRepo) WatchPending(ctx context.Context, email string) (*Stream[domain.TripInvitation], error) {
	sub, err := r.store.Watch(ctx, pendingQuery(email))
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.WatchPending: %w", err)
	}
	return newStream(sub, decodeInvitations), nil
}

// ListByTrip returns all invitations for tripID.
func (r *docInvitationRepo) ListByTrip(ctx context.Context, tripID string) ([]domain.TripInvitation, error) {
	docs, err := r.store.Find(ctx, docstore.Where(InvitationsCollection, docstore.Has(keyTrip, tripID)))
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListByTrip: %w", err)
	}
	invs, err := decodeInvitations(docs)
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListByTrip: %w", err)
	}
	return invs, nil
}

// RevokePending flips every pending invitation of tripID to revoked.
func (r *docInvitationRepo) RevokePending(ctx context.Context, tripID string) (int, error) {
	q := docstore.Where(InvitationsCollection,
		docstore.Has(keyTrip, tripID),
		docstore.Has(keyStatus, string(domain.InvitationPending)),
	)
	docs, err := r.store.Find(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("repo.InvitationRepo.RevokePending: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	now := r.now()
	ops := make([]docstore.Mutation, 0, len(docs))
	for _, d := range docs {
		inv, err := decodeInvitation(d)
		if err != nil {
			return 0, fmt.Errorf("repo.InvitationRepo.RevokePending: %w", err)
		}
		inv.Status = domain.InvitationRevoked
		inv.RespondedAt = &now
		op, err := invitationPut(inv)
		if err != nil {
			return 0, fmt.Errorf("repo.InvitationRepo.RevokePending: %w", err)
		}
		op.Doc.Version = d.Version
		ops = append(ops, op)
	}
	if err := r.store.BatchWrite(ctx, ops); err != nil {
		return 0, fmt.Errorf("repo.InvitationRepo.RevokePending: %w", err)
	}
	return len(ops), nil
}

// ---- encoding ----

func invitationPut(inv domain.TripInvitation) (docstore.Mutation, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return docstore.Mutation{}, fmt.Errorf("encode invitation %s: %w", inv.ID, err)
	}
	keys := map[string][]string{
		keyInvitee: {domain.NormalizeEmail(inv.InviteeEmail)},
		keyStatus:  {string(inv.Status)},
		keyTrip:    {inv.TripID},
	}
	return docstore.PutOp(invitationRef(inv.ID), docstore.Document{ID: inv.ID, Data: data, Keys: keys}), nil
}

func decodeInvitation(d docstore.Document) (domain.TripInvitation, error) {
	var inv domain.TripInvitation
	if err := json.Unmarshal(d.Data, &inv); err != nil {
		return domain.TripInvitation{}, fmt.Errorf("decode invitation %s: %w", d.ID, err)
	}
	inv.ID = d.ID
	return inv, nil
}

func decodeInvitations(docs []docstore.Document) ([]domain.TripInvitation, error) {
	out := make([]domain.TripInvitation, 0, len(docs))
	for _, d := range docs {
		inv, err := decodeInvitation(d)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}
