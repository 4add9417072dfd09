package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a ledger entry derived from an activity check-in.
// At most one expense exists per (TripID, ActivityID).
type Expense struct {
	ID          string          `json:"id"`
	TripID      string          `json:"trip_id"`
	ActivityID  string          `json:"activity_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ExpenseDescription encodes the activity id into the free-text description
// so ledgers without a native activity field can still trace the entry back.
func ExpenseDescription(a Activity) string {
	return fmt.Sprintf("Check-in: %s [activity:%s]", a.Title, a.ID)
}
