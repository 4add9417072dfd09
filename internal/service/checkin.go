package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/repo"
)

// CheckInInput is what the caller supplies when checking in. A nil or zero
// ActualCost is only accepted with ConfirmZero set.
type CheckInInput struct {
	ActualCost  *decimal.Decimal
	ConfirmZero bool
}

// CheckInStatus says what a check-in call did.
type CheckInStatus string

const (
	// StatusCheckedIn means the current activity was checked in.
	StatusCheckedIn CheckInStatus = "checked_in"
	// StatusTripCompleted means no activity was pending; nothing was written.
	StatusTripCompleted CheckInStatus = "trip_completed"
)

// CheckInOutcome reports the result of a check-in or expense retry.
//
// A ledger failure does not fail the call: the activity stays checked in,
// ExpenseSynced is false and ExpenseError says why, so the sync can be retried.
type CheckInOutcome struct {
	Status          CheckInStatus     `json:"status"`
	Trip            domain.TripRecord `json:"trip"`
	Activity        *domain.Activity  `json:"activity,omitempty"`
	ExpenseID       string            `json:"expense_id,omitempty"`
	ExpenseCreated  bool              `json:"expense_created"`
	ExpenseSynced   bool              `json:"expense_synced"`
	ExpenseError    string            `json:"expense_error,omitempty"`
	NextDestination string            `json:"next_destination"`
	Progress        domain.Progress   `json:"progress"`
}

// CheckInWorkflow moves the current activity of a trip from pending to
// checked in and derives its ledger entry.
type CheckInWorkflow struct {
	trips    repo.TripRepo
	expenses repo.ExpenseRepo
	logger   *slog.Logger
}

// NewCheckInWorkflow constructs a CheckInWorkflow.
func NewCheckInWorkflow(trips repo.TripRepo, expenses repo.ExpenseRepo, logger *slog.Logger) *CheckInWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckInWorkflow{trips: trips, expenses: expenses, logger: logger}
}

// CheckInCurrent checks in the first pending activity of rec.
//
// rec must be the freshest copy the caller holds: the write is a whole-trip
// overwrite guarded by rec.Version, so a stale copy fails with
// domain.ErrConflict instead of silently discarding another device's edit.
func (w *CheckInWorkflow) CheckInCurrent(ctx context.Context, userID string, rec domain.TripRecord, in CheckInInput) (CheckInOutcome, error) {
	if !domain.CanCheckIn(rec.Trip, userID) {
		return CheckInOutcome{}, fmt.Errorf("service.CheckInWorkflow.CheckInCurrent: %w: only the owner can check in", domain.ErrPermission)
	}

	rec.Trip = rec.Trip.Clone()
	rec.Activities = domain.SortChronologically(rec.Activities)

	pointer := domain.CurrentIndex(rec.Activities)
	if pointer < 0 {
		return CheckInOutcome{
			Status:          StatusTripCompleted,
			Trip:            rec,
			NextDestination: domain.TripCompleted,
			Progress:        domain.ProgressOf(rec.Trip),
		}, nil
	}

	cost, err := validateCost(in)
	if err != nil {
		return CheckInOutcome{}, fmt.Errorf("service.CheckInWorkflow.CheckInCurrent: %w", err)
	}

	a := &rec.Activities[pointer]
	a.CheckIn = true
	if a.Budget == nil {
		a.Budget = &domain.ActivityBudget{Category: a.Category()}
		if rec.Budget != nil {
			a.Budget.Currency = rec.Budget.Currency
		}
	}
	a.Budget.ActualCost = &cost
	rec.RecomputeBudget()

	saved, err := w.trips.Save(ctx, rec)
	if err != nil {
		return CheckInOutcome{}, fmt.Errorf("service.CheckInWorkflow.CheckInCurrent: %w", err)
	}

	activityID := a.ID
	out := w.syncExpense(ctx, saved, activityID)
	out.Status = StatusCheckedIn
	// The pointer advances only now that the check-in is persisted.
	out.NextDestination = domain.NextDestination(out.Trip.Activities, pointer+1)
	return out, nil
}

// RetryExpenseSync re-attempts the ledger write for a checked-in activity
// whose earlier sync failed. An already synced activity is a no-op success.
func (w *CheckInWorkflow) RetryExpenseSync(ctx context.Context, userID string, rec domain.TripRecord, activityID string) (CheckInOutcome, error) {
	if !domain.CanCheckIn(rec.Trip, userID) {
		return CheckInOutcome{}, fmt.Errorf("service.CheckInWorkflow.RetryExpenseSync: %w: only the owner can sync expenses", domain.ErrPermission)
	}
	idx := rec.ActivityIndex(activityID)
	if idx < 0 {
		return CheckInOutcome{}, fmt.Errorf("service.CheckInWorkflow.RetryExpenseSync: activity %s: %w", activityID, domain.ErrNotFound)
	}
	if !rec.Activities[idx].CheckIn {
		return CheckInOutcome{}, fmt.Errorf("service.CheckInWorkflow.RetryExpenseSync: %w: activity %s is not checked in", domain.ErrValidation, activityID)
	}

	out := w.syncExpense(ctx, rec, activityID)
	out.Status = StatusCheckedIn
	out.NextDestination = out.Progress.NextDestination
	return out, nil
}

// syncExpense creates the ledger entry for the activity if it needs one and
// records the expense id on the trip with a second write. Failures are
// reported in the outcome, never returned.
func (w *CheckInWorkflow) syncExpense(ctx context.Context, rec domain.TripRecord, activityID string) (out CheckInOutcome) {
	out = CheckInOutcome{Trip: rec}
	defer func() {
		out.Progress = domain.ProgressOf(out.Trip.Trip)
		if i := out.Trip.ActivityIndex(activityID); i >= 0 {
			a := out.Trip.Activities[i]
			out.Activity = &a
		}
	}()

	a := rec.Activities[rec.ActivityIndex(activityID)]
	if a.ExpenseSynced() {
		out.ExpenseID = a.ExpenseInfo.ExpenseID
		out.ExpenseSynced = true
		return out
	}
	if a.Budget == nil || a.Budget.ActualCost == nil || !a.Budget.ActualCost.IsPositive() {
		return out
	}

	expenseID, err := w.expenses.CreateFromActivity(ctx, *a.Budget.ActualCost, a.Category(),
		domain.ExpenseDescription(a), a.ID, rec.ID)
	if err != nil {
		w.logger.WarnContext(ctx, "expense sync failed; check-in kept",
			"trip_id", rec.ID, "activity_id", a.ID, "error", err)
		out.ExpenseError = err.Error()
		return out
	}
	out.ExpenseID = expenseID
	out.ExpenseCreated = true

	next := rec
	next.Trip = rec.Trip.Clone()
	next.Activities[next.ActivityIndex(activityID)].ExpenseInfo = &domain.ExpenseInfo{
		ExpenseID:       expenseID,
		HasExpense:      true,
		ExpenseCategory: a.Category(),
		ExpenseSynced:   true,
	}
	saved, err := w.trips.Save(ctx, next)
	if err != nil {
		// The ledger entry exists; a retry finds it again by (trip, activity).
		w.logger.WarnContext(ctx, "recording expense id on trip failed",
			"trip_id", rec.ID, "activity_id", a.ID, "expense_id", expenseID, "error", err)
		out.ExpenseError = err.Error()
		return out
	}
	out.Trip = saved
	out.ExpenseSynced = true
	return out
}

// validateCost turns the caller's input into the cost to record.
func validateCost(in CheckInInput) (decimal.Decimal, error) {
	if in.ActualCost == nil || in.ActualCost.IsZero() {
		if !in.ConfirmZero {
			return decimal.Zero, fmt.Errorf("%w: zero or missing actual cost must be confirmed", domain.ErrConfirmationRequired)
		}
		return decimal.Zero, nil
	}
	if in.ActualCost.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: actual cost must not be negative", domain.ErrValidation)
	}
	return *in.ActualCost, nil
}
