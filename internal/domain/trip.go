// Package domain contains the core data types for the trip sync service.
// This package holds pure logic only (permissions, scheduling, budget) and is
// imported by every other internal package (docstore, repo, tripsync, handler).
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// localIDPrefix marks ids assigned optimistically on the client side before the
// store has persisted the trip for the first time.
const localIDPrefix = "local-"

// TripKind says where a trip document lives. Owned trips sit in the owner's
// personal collection; Shared trips have been promoted to the shared
// collection so collaborators can query them.
type TripKind string

const (
	KindOwned  TripKind = "owned"
	KindShared TripKind = "shared"
)

// Budget is the trip-level estimate. Spent is recomputed from checked-in
// activities and is never edited directly.
type Budget struct {
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Currency      string          `json:"currency"`
	Spent         decimal.Decimal `json:"spent"`
}

// Trip is the whole-record representation of one itinerary, including its
// embedded activities. It is the unit of mutation: every write overwrites the
// entire document.
type Trip struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Destination   string                     `json:"destination"`
	StartDate     time.Time                  `json:"start_date"`
	EndDate       time.Time                  `json:"end_date"`
	Description   string                     `json:"description,omitempty"`
	Budget        *Budget                    `json:"budget,omitempty"`
	Activities    []Activity                 `json:"activities"`
	OwnerID       string                     `json:"owner_id"`
	Collaborators map[string]PermissionLevel `json:"collaborators,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`

	// Version is the store revision this copy was read at. Zero means the
	// trip has never been persisted. API payloads carry it; stored bodies
	// always hold zero because the repo keeps the revision on the document.
	Version int64 `json:"version"`
}

// TripRecord pairs a trip with its storage kind, so code that writes the
// trip back never has to guess which collection it came from.
type TripRecord struct {
	Trip
	Kind TripKind `json:"kind"`
}

// NewLocalID returns an optimistic id used between createTrip and the first
// successful persistence.
func NewLocalID() string {
	return localIDPrefix + ulid.Make().String()
}

// IsLocalID reports whether id was assigned by NewLocalID rather than the store.
func IsLocalID(id string) bool {
	return id == "" || strings.HasPrefix(id, localIDPrefix)
}

// Members returns the owner followed by every collaborator id.
func (t Trip) Members() []string {
	out := make([]string, 0, len(t.Collaborators)+1)
	if t.OwnerID != "" {
		out = append(out, t.OwnerID)
	}
	for uid := range t.Collaborators {
		out = append(out, uid)
	}
	return out
}

// Clone returns a deep copy so callers can mutate activities and collaborators
// without touching a snapshot that other readers still hold.
func (t Trip) Clone() Trip {
	c := t
	if t.Budget != nil {
		b := *t.Budget
		c.Budget = &b
	}
	if t.Activities != nil {
		c.Activities = make([]Activity, len(t.Activities))
		for i, a := range t.Activities {
			c.Activities[i] = a.Clone()
		}
	}
	if t.Collaborators != nil {
		c.Collaborators = make(map[string]PermissionLevel, len(t.Collaborators))
		for k, v := range t.Collaborators {
			c.Collaborators[k] = v
		}
	}
	return c
}

// ActivityIndex returns the position of the activity with the given id, or -1.
func (t Trip) ActivityIndex(id string) int {
	for i, a := range t.Activities {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// RecomputeBudget sets Budget.Spent to the sum of the actual costs recorded on
// checked-in activities. A trip without a budget gets one in the currency of
// its first costed activity.
func (t *Trip) RecomputeBudget() {
	spent := decimal.Zero
	currency := ""
	for _, a := range t.Activities {
		if !a.CheckIn || a.Budget == nil || a.Budget.ActualCost == nil {
			continue
		}
		spent = spent.Add(*a.Budget.ActualCost)
		if currency == "" {
			currency = a.Budget.Currency
		}
	}
	if t.Budget == nil {
		if spent.IsZero() {
			return
		}
		t.Budget = &Budget{Currency: currency}
	}
	t.Budget.Spent = spent
}

// Validate enforces the trip invariants common to create and update.
//   - Name and owner are required.
//   - EndDate must not be before StartDate.
//   - The owner is never listed as a collaborator.
//   - Collaborator permissions are editor or viewer.
//   - Activities pass ValidateSchedule.
func (t Trip) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if t.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if !t.StartDate.IsZero() && !t.EndDate.IsZero() && t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("%w: end_date must not be before start_date", ErrValidation)
	}
	if _, ok := t.Collaborators[t.OwnerID]; ok {
		return fmt.Errorf("%w: owner cannot be a collaborator", ErrValidation)
	}
	for uid, p := range t.Collaborators {
		if !p.Valid() {
			return fmt.Errorf("%w: invalid permission %q for %s", ErrValidation, p, uid)
		}
	}
	if t.Budget != nil && t.Budget.EstimatedCost.IsNegative() {
		return fmt.Errorf("%w: budget must not be negative", ErrValidation)
	}
	return ValidateSchedule(t.Activities)
}
