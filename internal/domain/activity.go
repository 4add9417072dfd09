package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Location is an optional place attached to an activity.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ActivityBudget carries the planned and recorded spend of an activity.
// ActualCost is nil until the activity is checked in; EstimatedCost is only
// ever displayed, never recorded as the actual spend.
type ActivityBudget struct {
	EstimatedCost decimal.Decimal  `json:"estimated_cost"`
	ActualCost    *decimal.Decimal `json:"actual_cost,omitempty"`
	Currency      string           `json:"currency"`
	Category      string           `json:"category"`
}

// ExpenseInfo links an activity to the ledger entry its check-in produced.
// Once ExpenseSynced is true, ExpenseID is set and never reassigned.
type ExpenseInfo struct {
	ExpenseID       string `json:"expense_id,omitempty"`
	HasExpense      bool   `json:"has_expense"`
	ExpenseCategory string `json:"expense_category,omitempty"`
	ExpenseSynced   bool   `json:"expense_synced"`
}

// Activity is one stop on the itinerary. Activities are embedded in their
// trip and have no lifecycle of their own.
type Activity struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Location    *Location       `json:"location,omitempty"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	CheckIn     bool            `json:"check_in"`
	Budget      *ActivityBudget `json:"budget,omitempty"`
	ExpenseInfo *ExpenseInfo    `json:"expense_info,omitempty"`
}

// Clone returns a deep copy of the activity.
func (a Activity) Clone() Activity {
	c := a
	if a.Location != nil {
		l := *a.Location
		c.Location = &l
	}
	if a.StartDate != nil {
		s := *a.StartDate
		c.StartDate = &s
	}
	if a.EndDate != nil {
		e := *a.EndDate
		c.EndDate = &e
	}
	if a.Budget != nil {
		b := *a.Budget
		if a.Budget.ActualCost != nil {
			ac := *a.Budget.ActualCost
			b.ActualCost = &ac
		}
		c.Budget = &b
	}
	if a.ExpenseInfo != nil {
		e := *a.ExpenseInfo
		c.ExpenseInfo = &e
	}
	return c
}

// Category returns the budget category, or "other" when the activity has no budget.
func (a Activity) Category() string {
	if a.Budget == nil || a.Budget.Category == "" {
		return "other"
	}
	return a.Budget.Category
}

// ExpenseSynced reports whether the activity already produced a ledger entry.
func (a Activity) ExpenseSynced() bool {
	return a.ExpenseInfo != nil && a.ExpenseInfo.ExpenseSynced && a.ExpenseInfo.ExpenseID != ""
}
