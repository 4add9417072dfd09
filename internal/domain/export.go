package domain

import "time"

// ExportRow is a single row in an itinerary export.
// It is a flat, denormalized view: one row per activity, with trip fields
// repeated for every activity on that trip. Trips with no activities yield one
// row with zero values for all activity fields.
type ExportRow struct {
	// Trip fields, repeated for every activity on the trip.
	TripID        string
	TripName      string
	Destination   string
	TripStartDate string // "2006-01-02" formatted date
	TripEndDate   string

	// Activity fields; zero values when the trip has no activities.
	ActivityTitle string
	Location      string
	StartsAt      *time.Time
	EndsAt        *time.Time
	CheckedIn     bool
	Category      string
	Estimated     string
	Actual        string
	ExpenseID     string
}

// ExportRows flattens a trip into export rows in chronological order.
func ExportRows(t Trip) []ExportRow {
	base := ExportRow{
		TripID:        t.ID,
		TripName:      t.Name,
		Destination:   t.Destination,
		TripStartDate: formatDate(t.StartDate),
		TripEndDate:   formatDate(t.EndDate),
	}
	if len(t.Activities) == 0 {
		return []ExportRow{base}
	}

	rows := make([]ExportRow, 0, len(t.Activities))
	for _, a := range SortChronologically(t.Activities) {
		r := base
		r.ActivityTitle = a.Title
		r.StartsAt = a.StartDate
		r.EndsAt = a.EndDate
		r.CheckedIn = a.CheckIn
		r.Category = a.Category()
		if a.Location != nil {
			r.Location = a.Location.Name
			if r.Location == "" {
				r.Location = a.Location.Address
			}
		}
		if a.Budget != nil {
			r.Estimated = a.Budget.EstimatedCost.String()
			if a.Budget.ActualCost != nil {
				r.Actual = a.Budget.ActualCost.String()
			}
		}
		if a.ExpenseInfo != nil {
			r.ExpenseID = a.ExpenseInfo.ExpenseID
		}
		rows = append(rows, r)
	}
	return rows
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
