package tripsync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/repo"
	"github.com/pkordes/tripsync/backend/internal/service"
)

// op is one mutation in flight. While it runs State.IsLoading is set and no
// other mutation of the same trip is admitted.
type op struct {
	gen    uint64
	user   identity.User
	tripID string
	// warn is recorded as State.Err when the operation otherwise succeeds.
	warn string
}

func (e *Engine) begin(name, tripID string) (*op, error) {
	e.mu.Lock()
	if !e.state.Initialized {
		e.mu.Unlock()
		return nil, fmt.Errorf("tripsync.Engine.%s: %w", name, domain.ErrNotInitialized)
	}
	if tripID != "" && e.inflight[tripID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("tripsync.Engine.%s: %w: another change to trip %s is in progress", name, domain.ErrConflict, tripID)
	}
	if tripID != "" {
		e.inflight[tripID] = true
	}
	e.loading++
	e.state.IsLoading = true
	o := &op{gen: e.gen, user: identity.User{ID: e.state.UserID, Email: e.state.Email}, tripID: tripID}
	e.mu.Unlock()
	e.changed()
	return o, nil
}

// finish ends o, recording err (or o.warn) as State.Err, and returns err.
func (e *Engine) finish(o *op, err error) error {
	e.mu.Lock()
	if e.gen == o.gen {
		if e.loading > 0 {
			e.loading--
		}
		e.state.IsLoading = e.loading > 0
		if o.tripID != "" {
			delete(e.inflight, o.tripID)
		}
		switch {
		case err != nil:
			e.state.Err = err.Error()
		default:
			e.state.Err = o.warn
		}
	}
	e.mu.Unlock()
	e.changed()
	return err
}

// apply runs fn under e.mu while o's session is current.
func (e *Engine) apply(o *op, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != o.gen {
		return false
	}
	fn()
	return true
}

// ---- trips ----

// CreateTrip inserts t at the top of MyTrips under a local id, writes it, then
// replaces the local entry with the stored trip and refetches the owned list.
func (e *Engine) CreateTrip(ctx context.Context, t domain.Trip) (domain.TripRecord, error) {
	o, err := e.begin("CreateTrip", "")
	if err != nil {
		return domain.TripRecord{}, err
	}

	local := domain.TripRecord{Trip: t.Clone(), Kind: domain.KindOwned}
	local.ID = domain.NewLocalID()
	local.OwnerID = o.user.ID
	local.Collaborators = nil
	local.CreatedAt = time.Now().UTC()
	e.apply(o, func() {
		e.optimistic = append([]domain.TripRecord{local}, e.optimistic...)
		e.recomputeLocked()
	})
	e.changed()

	saved, err := e.tripSvc.Create(ctx, o.user.ID, local.Trip)
	e.apply(o, func() {
		e.optimistic = withoutTrip(e.optimistic, local.ID)
		if err == nil {
			e.applyRecordLocked(saved)
			return
		}
		e.recomputeLocked()
	})
	if err != nil {
		return domain.TripRecord{}, e.finish(o, fmt.Errorf("tripsync.Engine.CreateTrip: %w", err))
	}

	if owned, ferr := e.trips.ListOwned(ctx, o.user.ID); ferr == nil {
		e.apply(o, func() {
			if !slices.ContainsFunc(owned, func(r domain.TripRecord) bool { return r.ID == saved.ID }) {
				owned = append(owned, saved)
			}
			e.owned = owned
			e.recomputeLocked()
		})
	} else {
		e.logger.WarnContext(ctx, "refetch after create failed", "user_id", o.user.ID, "error", ferr)
	}
	return saved, e.finish(o, nil)
}

// UpdateTrip writes t. A zero t.Version writes over whatever is stored; a
// non-zero one must match it.
func (e *Engine) UpdateTrip(ctx context.Context, t domain.Trip) (domain.TripRecord, error) {
	o, err := e.begin("UpdateTrip", t.ID)
	if err != nil {
		return domain.TripRecord{}, err
	}
	saved, err := e.tripSvc.Update(ctx, o.user.ID, t)
	if err != nil {
		return domain.TripRecord{}, e.finish(o, fmt.Errorf("tripsync.Engine.UpdateTrip: %w", err))
	}
	e.apply(o, func() { e.applyRecordLocked(saved) })
	return saved, e.finish(o, nil)
}

// DeleteTrip deletes trip tripID, which the caller must own. It is removed
// from both lists and deselected if it was selected.
func (e *Engine) DeleteTrip(ctx context.Context, tripID string) error {
	o, err := e.begin("DeleteTrip", tripID)
	if err != nil {
		return err
	}
	if _, err := e.tripSvc.Delete(ctx, o.user.ID, tripID); err != nil {
		return e.finish(o, fmt.Errorf("tripsync.Engine.DeleteTrip: %w", err))
	}
	var old *selection
	e.apply(o, func() {
		if e.state.Selected != nil && e.state.Selected.ID == tripID {
			old = e.clearSelectedLocked()
		}
		e.removeTripLocked(tripID)
	})
	old.stop()
	return e.finish(o, nil)
}

// ---- invitations and collaborators ----

// Invite invites in.InviteeEmail to trip in.TripID. Inviting to an owned trip
// promotes it to the shared collection; a selected trip follows it there.
func (e *Engine) Invite(ctx context.Context, in service.InviteInput) (domain.TripInvitation, error) {
	o, err := e.begin("Invite", in.TripID)
	if err != nil {
		return domain.TripInvitation{}, err
	}
	inv, rec, err := e.inviteSvc.Invite(ctx, o.user.ID, in)
	if err != nil {
		return domain.TripInvitation{}, e.finish(o, fmt.Errorf("tripsync.Engine.Invite: %w", err))
	}

	var follow uint64
	e.apply(o, func() {
		if e.sel != nil && e.sel.ref.ID == rec.ID && e.sel.ref != repo.RefOf(rec) {
			follow = e.sel.seq
		}
		e.applyRecordLocked(rec)
	})
	if follow != 0 {
		if err := e.selectRecord(o.gen, follow, rec); err != nil {
			e.logger.WarnContext(ctx, "reselect after promotion failed", "trip_id", rec.ID, "error", err)
		}
	}
	return inv, e.finish(o, nil)
}

// AcceptInvitation adds the caller to the invitation's trip and refetches
// the shared list.
func (e *Engine) AcceptInvitation(ctx context.Context, invitationID string) (domain.TripRecord, error) {
	o, err := e.begin("AcceptInvitation", "")
	if err != nil {
		return domain.TripRecord{}, err
	}
	_, rec, err := e.inviteSvc.Accept(ctx, o.user.ID, o.user.Email, invitationID)
	if err != nil {
		return domain.TripRecord{}, e.finish(o, fmt.Errorf("tripsync.Engine.AcceptInvitation: %w", err))
	}

	shared, ferr := e.trips.ListShared(ctx, o.user.ID)
	if ferr != nil {
		e.logger.WarnContext(ctx, "refetch after accept failed", "user_id", o.user.ID, "error", ferr)
	}
	e.apply(o, func() {
		e.state.PendingInvitations = withoutInvitation(e.state.PendingInvitations, invitationID)
		if ferr == nil {
			e.shared = shared
		}
		e.applyRecordLocked(rec)
	})
	return rec, e.finish(o, nil)
}

// DeclineInvitation declines an invitation addressed to the caller.
func (e *Engine) DeclineInvitation(ctx context.Context, invitationID string) error {
	o, err := e.begin("DeclineInvitation", "")
	if err != nil {
		return err
	}
	if _, err := e.inviteSvc.Decline(ctx, o.user.ID, o.user.Email, invitationID); err != nil {
		return e.finish(o, fmt.Errorf("tripsync.Engine.DeclineInvitation: %w", err))
	}
	e.apply(o, func() {
		e.state.PendingInvitations = withoutInvitation(e.state.PendingInvitations, invitationID)
	})
	return e.finish(o, nil)
}

// RemoveCollaborator removes collaboratorID from trip tripID.
func (e *Engine) RemoveCollaborator(ctx context.Context, tripID, collaboratorID string) (domain.TripRecord, error) {
	o, err := e.begin("RemoveCollaborator", tripID)
	if err != nil {
		return domain.TripRecord{}, err
	}
	rec, err := e.inviteSvc.RemoveCollaborator(ctx, o.user.ID, tripID, collaboratorID)
	if err != nil {
		return domain.TripRecord{}, e.finish(o, fmt.Errorf("tripsync.Engine.RemoveCollaborator: %w", err))
	}
	e.apply(o, func() { e.applyRecordLocked(rec) })
	return rec, e.finish(o, nil)
}

// UpdatePermission changes collaboratorID's level on trip tripID.
func (e *Engine) UpdatePermission(ctx context.Context, tripID, collaboratorID string, level domain.PermissionLevel) (domain.TripRecord, error) {
	o, err := e.begin("UpdatePermission", tripID)
	if err != nil {
		return domain.TripRecord{}, err
	}
	rec, err := e.inviteSvc.UpdatePermission(ctx, o.user.ID, tripID, collaboratorID, level)
	if err != nil {
		return domain.TripRecord{}, e.finish(o, fmt.Errorf("tripsync.Engine.UpdatePermission: %w", err))
	}
	e.apply(o, func() { e.applyRecordLocked(rec) })
	return rec, e.finish(o, nil)
}

// ---- check-in ----

// CheckInCurrentActivity checks in the selected trip's current activity,
// working from the freshest copy the engine holds. A ledger failure does not
// fail the call: the outcome reports it and State.Err asks for a retry.
func (e *Engine) CheckInCurrentActivity(ctx context.Context, in service.CheckInInput) (service.CheckInOutcome, error) {
	e.mu.Lock()
	var tripID string
	if e.state.Selected != nil {
		tripID = e.state.Selected.ID
	}
	initialized := e.state.Initialized
	e.mu.Unlock()
	if initialized && tripID == "" {
		return service.CheckInOutcome{}, fmt.Errorf("tripsync.Engine.CheckInCurrentActivity: %w: no trip selected", domain.ErrNotFound)
	}

	o, err := e.begin("CheckInCurrentActivity", tripID)
	if err != nil {
		return service.CheckInOutcome{}, err
	}
	return e.checkInOn(ctx, o, func(rec domain.TripRecord) (service.CheckInOutcome, error) {
		return e.checkIn.CheckInCurrent(ctx, o.user.ID, rec, in)
	})
}

// RetryExpenseSync creates the missing expense for an activity that was
// checked in while the ledger was unavailable.
func (e *Engine) RetryExpenseSync(ctx context.Context, tripID, activityID string) (service.CheckInOutcome, error) {
	o, err := e.begin("RetryExpenseSync", tripID)
	if err != nil {
		return service.CheckInOutcome{}, err
	}
	return e.checkInOn(ctx, o, func(rec domain.TripRecord) (service.CheckInOutcome, error) {
		return e.checkIn.RetryExpenseSync(ctx, o.user.ID, rec, activityID)
	})
}

func (e *Engine) checkInOn(ctx context.Context, o *op, run func(domain.TripRecord) (service.CheckInOutcome, error)) (service.CheckInOutcome, error) {
	var (
		rec domain.TripRecord
		ok  bool
	)
	e.apply(o, func() { rec, ok = e.freshestLocked(o.tripID) })
	if !ok {
		var err error
		if rec, err = e.tripSvc.Get(ctx, o.user.ID, o.tripID); err != nil {
			return service.CheckInOutcome{}, e.finish(o, fmt.Errorf("tripsync.Engine.CheckIn: %w", err))
		}
	}

	out, err := run(rec)
	if err != nil {
		return service.CheckInOutcome{}, e.finish(o, fmt.Errorf("tripsync.Engine.CheckIn: %w", err))
	}
	e.apply(o, func() { e.applyRecordLocked(out.Trip) })
	if out.ExpenseError != "" {
		o.warn = "expense sync failed; retry from the activity: " + out.ExpenseError
	}
	return out, e.finish(o, nil)
}

func withoutInvitation(invs []domain.TripInvitation, id string) []domain.TripInvitation {
	return slices.DeleteFunc(slices.Clone(invs), func(inv domain.TripInvitation) bool { return inv.ID == id })
}
