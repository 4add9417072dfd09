// Package tripsync keeps one user's view of their trips consistent with the
// document store: it fetches and subscribes to the owned and shared
// collections, partitions what arrives by ownership, follows a selected trip
// and routes every mutation through the service layer.
package tripsync

import (
	"slices"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// State is the observable view of one session.
type State struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`

	// MyTrips holds the trips the user owns, newest first. SharedWithMe holds
	// the trips the user collaborates on. A trip is never in both.
	MyTrips      []domain.TripRecord `json:"my_trips"`
	SharedWithMe []domain.TripRecord `json:"shared_with_me"`

	Selected *domain.TripRecord `json:"selected,omitempty"`
	Progress *domain.Progress   `json:"progress,omitempty"`

	PendingInvitations []domain.TripInvitation `json:"pending_invitations"`

	Initialized bool   `json:"initialized"`
	IsLoading   bool   `json:"is_loading"`
	Err         string `json:"error,omitempty"`
}

// NextDestination is the title of the selected trip's current activity, or
// domain.TripCompleted. It is empty when nothing is selected.
func (s State) NextDestination() string {
	if s.Progress == nil {
		return ""
	}
	return s.Progress.NextDestination
}

// clone returns a copy that shares no mutable memory with s.
func (s State) clone() State {
	c := s
	c.MyTrips = cloneRecords(s.MyTrips)
	c.SharedWithMe = cloneRecords(s.SharedWithMe)
	c.PendingInvitations = slices.Clone(s.PendingInvitations)
	if s.Selected != nil {
		sel := cloneRecord(*s.Selected)
		c.Selected = &sel
	}
	if s.Progress != nil {
		p := *s.Progress
		c.Progress = &p
	}
	return c
}

func cloneRecord(r domain.TripRecord) domain.TripRecord {
	r.Trip = r.Trip.Clone()
	return r
}

func cloneRecords(rs []domain.TripRecord) []domain.TripRecord {
	if rs == nil {
		return nil
	}
	out := make([]domain.TripRecord, len(rs))
	for i, r := range rs {
		out[i] = cloneRecord(r)
	}
	return out
}

// Partition splits trip documents into those userID owns and those shared
// with userID. Activities are put into canonical order. When the same trip id
// appears more than once (a promotion seen by both streams) the shared copy
// wins, then the higher version. Documents userID has no role on are dropped.
func Partition(userID string, docs ...[]domain.TripRecord) (mine, shared []domain.TripRecord) {
	byID := map[string]domain.TripRecord{}
	for _, batch := range docs {
		for _, rec := range batch {
			prev, ok := byID[rec.ID]
			if ok && !supersedes(rec, prev) {
				continue
			}
			byID[rec.ID] = rec
		}
	}

	mine = []domain.TripRecord{}
	shared = []domain.TripRecord{}
	for _, rec := range byID {
		rec.Activities = domain.SortChronologically(rec.Activities)
		switch domain.RoleOf(rec.Trip, userID) {
		case domain.RoleOwner:
			mine = append(mine, rec)
		case domain.RoleEditor, domain.RoleViewer:
			shared = append(shared, rec)
		}
	}
	sortNewestFirst(mine)
	sortNewestFirst(shared)
	return mine, shared
}

// supersedes reports whether a should replace b for the same trip id.
func supersedes(a, b domain.TripRecord) bool {
	if a.Kind != b.Kind {
		return a.Kind == domain.KindShared
	}
	return a.Version >= b.Version
}

func sortNewestFirst(rs []domain.TripRecord) {
	slices.SortStableFunc(rs, func(a, b domain.TripRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// activitiesChanged is the poller's comparison: the activity count or any
// activity's check-in flag differs.
func activitiesChanged(cached, fresh domain.Trip) bool {
	if len(cached.Activities) != len(fresh.Activities) {
		return true
	}
	for i := range cached.Activities {
		if cached.Activities[i].CheckIn != fresh.Activities[i].CheckIn {
			return true
		}
	}
	return false
}
