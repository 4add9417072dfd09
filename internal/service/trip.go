// Package service contains the business logic for the trip sync API.
// Services check permissions, validate inputs and orchestrate repo calls.
// Storage layout stays in repo; services depend on repo interfaces only.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/repo"
)

// TripService implements the create/update/delete operations on trips.
type TripService struct {
	trips       repo.TripRepo
	invitations repo.InvitationRepo
	logger      *slog.Logger
}

// NewTripService constructs a TripService backed by the provided repos.
func NewTripService(trips repo.TripRepo, invitations repo.InvitationRepo, logger *slog.Logger) *TripService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TripService{trips: trips, invitations: invitations, logger: logger}
}

// Create validates and persists a new trip owned by userID. Collaborators and
// check-in state in the input are discarded: membership is granted through
// invitations and activities start pending.
func (s *TripService) Create(ctx context.Context, userID string, t domain.Trip) (domain.TripRecord, error) {
	t = t.Clone()
	t.OwnerID = userID
	t.Collaborators = nil
	t.Version = 0
	if !domain.IsLocalID(t.ID) {
		t.ID = domain.NewLocalID()
	}
	for i := range t.Activities {
		resetActivity(&t.Activities[i])
	}
	t.Activities = domain.SortChronologically(t.Activities)
	t.RecomputeBudget()

	if err := t.Validate(); err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Create: %w", err)
	}

	saved, err := s.trips.Save(ctx, domain.TripRecord{Trip: t, Kind: domain.KindOwned})
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	return saved, nil
}

// Get returns a trip userID may view.
func (s *TripService) Get(ctx context.Context, userID, tripID string) (domain.TripRecord, error) {
	rec, err := s.trips.Locate(ctx, userID, tripID)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Get: %w", err)
	}
	if !domain.CanView(rec.Trip, userID) {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Get: %w", domain.ErrPermission)
	}
	return rec, nil
}

// Update overwrites the editable fields of a trip. Ownership, membership and
// check-in state always come from the stored copy; they change only through
// the invitation and check-in operations.
//
// A non-zero t.Version must match the stored version, otherwise the call
// fails with domain.ErrConflict. Version zero writes over whatever is stored.
func (s *TripService) Update(ctx context.Context, userID string, t domain.Trip) (domain.TripRecord, error) {
	current, err := s.trips.Locate(ctx, userID, t.ID)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Update: %w", err)
	}
	if !domain.CanEdit(current.Trip, userID) {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Update: %w: editor or owner required", domain.ErrPermission)
	}

	next := current
	next.Trip = t.Clone()
	next.ID = current.ID
	next.OwnerID = current.OwnerID
	next.Collaborators = current.Trip.Clone().Collaborators
	next.CreatedAt = current.CreatedAt
	if next.Version == 0 {
		next.Version = current.Version
	}
	carryCheckIns(current.Trip, next.Activities)
	next.Activities = domain.SortChronologically(next.Activities)
	next.RecomputeBudget()

	if err := next.Validate(); err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Update: %w", err)
	}

	saved, err := s.trips.Save(ctx, next)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Update: %w", err)
	}
	return saved, nil
}

// Delete removes a trip and revokes its pending invitations. Owner only.
func (s *TripService) Delete(ctx context.Context, userID, tripID string) (domain.TripRecord, error) {
	rec, err := s.trips.Locate(ctx, userID, tripID)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Delete: %w", err)
	}
	if !domain.CanManage(rec.Trip, userID) {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Delete: %w: only the owner can delete a trip", domain.ErrPermission)
	}
	if err := s.trips.Delete(ctx, repo.RefOf(rec)); err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.TripService.Delete: %w", err)
	}

	// The trip is gone either way; stale invitations only fail on accept.
	if n, err := s.invitations.RevokePending(ctx, rec.ID); err != nil {
		s.logger.WarnContext(ctx, "revoking invitations of deleted trip failed", "trip_id", rec.ID, "error", err)
	} else if n > 0 {
		s.logger.InfoContext(ctx, "revoked pending invitations", "trip_id", rec.ID, "count", n)
	}
	return rec, nil
}

// resetActivity clears the fields only the check-in workflow may set and
// gives the activity an id if it has none.
func resetActivity(a *domain.Activity) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CheckIn = false
	a.ExpenseInfo = nil
	if a.Budget != nil {
		a.Budget.ActualCost = nil
	}
}

// carryCheckIns copies the check-in state of stored activities onto their
// edited counterparts. Activities new to the trip start pending.
func carryCheckIns(stored domain.Trip, edited []domain.Activity) {
	for i := range edited {
		a := &edited[i]
		idx := stored.ActivityIndex(a.ID)
		if a.ID == "" || idx < 0 {
			resetActivity(a)
			continue
		}
		prev := stored.Activities[idx].Clone()
		a.CheckIn = prev.CheckIn
		a.ExpenseInfo = prev.ExpenseInfo
		if prev.Budget != nil && prev.Budget.ActualCost != nil {
			if a.Budget == nil {
				a.Budget = &domain.ActivityBudget{Currency: prev.Budget.Currency, Category: prev.Budget.Category}
			}
			a.Budget.ActualCost = prev.Budget.ActualCost
		} else if a.Budget != nil {
			a.Budget.ActualCost = nil
		}
	}
}
