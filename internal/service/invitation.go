package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/repo"
)

// InviteInput is what an owner supplies to invite a collaborator.
type InviteInput struct {
	TripID       string
	InviteeEmail string
	Permission   domain.PermissionLevel
	Message      string
}

// InvitationService manages trip membership: invitations, their answers and
// the collaborator map of each trip.
//
// Role checks here guard the user experience. The authoritative rules belong
// to whatever fronts the store.
type InvitationService struct {
	trips       repo.TripRepo
	invitations repo.InvitationRepo
	logger      *slog.Logger
	now         func() time.Time
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(trips repo.TripRepo, invitations repo.InvitationRepo, logger *slog.Logger) *InvitationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvitationService{
		trips:       trips,
		invitations: invitations,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Invite writes a pending invitation. An owned trip is promoted to the shared
// collection in the same batch, so the invitee can find it once accepted.
// The returned record is the trip as it is stored afterwards.
func (s *InvitationService) Invite(ctx context.Context, userID string, in InviteInput) (domain.TripInvitation, domain.TripRecord, error) {
	rec, err := s.trips.Locate(ctx, userID, in.TripID)
	if err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Invite: %w", err)
	}
	if !domain.CanManage(rec.Trip, userID) {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Invite: %w: only the owner can invite", domain.ErrPermission)
	}

	inv := domain.TripInvitation{
		TripID:       rec.ID,
		TripName:     rec.Name,
		InviterID:    userID,
		InviteeEmail: in.InviteeEmail,
		Permission:   in.Permission,
		Message:      in.Message,
	}
	if err := inv.Validate(); err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Invite: %w", err)
	}
	if err := s.rejectDuplicate(ctx, inv); err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Invite: %w", err)
	}

	switch rec.Kind {
	case domain.KindOwned:
		inv = repo.NewInvitation(inv, s.now())
		shared, err := s.trips.Promote(ctx, rec, inv)
		if err != nil {
			return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Invite: %w", err)
		}
		s.logger.InfoContext(ctx, "trip shared", "trip_id", shared.ID, "owner_id", userID)
		return inv, shared, nil
	default:
		created, err := s.invitations.Create(ctx, inv)
		if err != nil {
			return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Invite: %w", err)
		}
		return created, rec, nil
	}
}

// rejectDuplicate fails when the invitee already has a pending invitation for
// the trip.
func (s *InvitationService) rejectDuplicate(ctx context.Context, inv domain.TripInvitation) error {
	existing, err := s.invitations.ListByTrip(ctx, inv.TripID)
	if err != nil {
		return err
	}
	email := domain.NormalizeEmail(inv.InviteeEmail)
	for _, e := range existing {
		if e.Status == domain.InvitationPending && domain.NormalizeEmail(e.InviteeEmail) == email {
			return fmt.Errorf("%w: %s already has a pending invitation", domain.ErrValidation, email)
		}
	}
	return nil
}

// Pending lists the invitations waiting for an answer from email.
func (s *InvitationService) Pending(ctx context.Context, email string) ([]domain.TripInvitation, error) {
	invs, err := s.invitations.ListPending(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service.InvitationService.Pending: %w", err)
	}
	return invs, nil
}

// Accept adds the invitee to the trip's collaborators with the invited
// permission and marks the invitation accepted.
func (s *InvitationService) Accept(ctx context.Context, userID, email, invitationID string) (domain.TripInvitation, domain.TripRecord, error) {
	inv, err := s.answerable(ctx, userID, email, invitationID)
	if err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Accept: %w", err)
	}

	rec, err := s.trips.Get(ctx, repo.TripRef{Kind: domain.KindShared, ID: inv.TripID})
	if err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Accept: trip %s: %w", inv.TripID, err)
	}
	if rec.OwnerID == userID {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Accept: %w: owner cannot join own trip", domain.ErrValidation)
	}

	rec.Trip = rec.Trip.Clone()
	if rec.Collaborators == nil {
		rec.Collaborators = map[string]domain.PermissionLevel{}
	}
	rec.Collaborators[userID] = inv.Permission
	saved, err := s.trips.Save(ctx, rec)
	if err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Accept: %w", err)
	}

	inv, err = s.invitations.SetStatus(ctx, inv.ID, domain.InvitationAccepted, userID)
	if err != nil {
		return domain.TripInvitation{}, domain.TripRecord{}, fmt.Errorf("service.InvitationService.Accept: %w", err)
	}
	s.logger.InfoContext(ctx, "invitation accepted", "invitation_id", inv.ID, "trip_id", saved.ID, "user_id", userID)
	return inv, saved, nil
}

// Decline marks the invitation declined. The trip is not touched.
func (s *InvitationService) Decline(ctx context.Context, userID, email, invitationID string) (domain.TripInvitation, error) {
	inv, err := s.answerable(ctx, userID, email, invitationID)
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("service.InvitationService.Decline: %w", err)
	}
	inv, err = s.invitations.SetStatus(ctx, inv.ID, domain.InvitationDeclined, userID)
	if err != nil {
		return domain.TripInvitation{}, fmt.Errorf("service.InvitationService.Decline: %w", err)
	}
	return inv, nil
}

// answerable loads an invitation and checks that the caller may answer it.
func (s *InvitationService) answerable(ctx context.Context, userID, email, invitationID string) (domain.TripInvitation, error) {
	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		return domain.TripInvitation{}, err
	}
	if !inv.AddressedTo(userID, email) {
		return domain.TripInvitation{}, fmt.Errorf("%w: invitation is addressed to someone else", domain.ErrPermission)
	}
	if inv.Status != domain.InvitationPending {
		return domain.TripInvitation{}, fmt.Errorf("%w: invitation is %s", domain.ErrValidation, inv.Status)
	}
	return inv, nil
}

// RemoveCollaborator drops collaboratorID from the trip. Owner only.
func (s *InvitationService) RemoveCollaborator(ctx context.Context, userID, tripID, collaboratorID string) (domain.TripRecord, error) {
	rec, err := s.managed(ctx, userID, tripID, collaboratorID)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.InvitationService.RemoveCollaborator: %w", err)
	}
	delete(rec.Collaborators, collaboratorID)
	saved, err := s.trips.Save(ctx, rec)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.InvitationService.RemoveCollaborator: %w", err)
	}
	return saved, nil
}

// UpdatePermission changes the level granted to collaboratorID. Owner only.
func (s *InvitationService) UpdatePermission(ctx context.Context, userID, tripID, collaboratorID string, level domain.PermissionLevel) (domain.TripRecord, error) {
	if !level.Valid() {
		return domain.TripRecord{}, fmt.Errorf("service.InvitationService.UpdatePermission: %w: permission must be editor or viewer", domain.ErrValidation)
	}
	rec, err := s.managed(ctx, userID, tripID, collaboratorID)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.InvitationService.UpdatePermission: %w", err)
	}
	rec.Collaborators[collaboratorID] = level
	saved, err := s.trips.Save(ctx, rec)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("service.InvitationService.UpdatePermission: %w", err)
	}
	return saved, nil
}

// managed loads a trip for a collaborator change and returns a copy the
// caller may mutate.
func (s *InvitationService) managed(ctx context.Context, userID, tripID, collaboratorID string) (domain.TripRecord, error) {
	rec, err := s.trips.Locate(ctx, userID, tripID)
	if err != nil {
		return domain.TripRecord{}, err
	}
	if !domain.CanManage(rec.Trip, userID) {
		return domain.TripRecord{}, fmt.Errorf("%w: only the owner can manage collaborators", domain.ErrPermission)
	}
	if _, ok := rec.Collaborators[collaboratorID]; !ok {
		return domain.TripRecord{}, fmt.Errorf("collaborator %s: %w", collaboratorID, domain.ErrNotFound)
	}
	rec.Trip = rec.Trip.Clone()
	return rec, nil
}
