package domain

import (
	"fmt"
	"slices"
	"strings"
)

// TripCompleted is the next-destination text shown once no pending activity remains.
const TripCompleted = "Trip completed"

// SortChronologically returns the activities ordered by StartDate ascending.
// Activities without a StartDate come after every dated activity and keep their
// relative order. The input slice is not modified. Sorting an already sorted
// list returns an equal list.
func SortChronologically(activities []Activity) []Activity {
	if activities == nil {
		return nil
	}
	out := slices.Clone(activities)
	slices.SortStableFunc(out, func(a, b Activity) int {
		switch {
		case a.StartDate == nil && b.StartDate == nil:
			return 0
		case a.StartDate == nil:
			return 1
		case b.StartDate == nil:
			return -1
		default:
			return a.StartDate.Compare(*b.StartDate)
		}
	})
	return out
}

// ValidateSchedule rejects activities whose end precedes their start and
// dated activities whose time ranges overlap. Ranges are half-open, so one
// activity may end exactly when the next begins.
func ValidateSchedule(activities []Activity) error {
	for _, a := range activities {
		if a.StartDate != nil && a.EndDate != nil && a.EndDate.Before(*a.StartDate) {
			return fmt.Errorf("%w: activity %q ends before it starts", ErrValidation, a.Title)
		}
		if a.Budget != nil {
			if a.Budget.EstimatedCost.IsNegative() {
				return fmt.Errorf("%w: activity %q has a negative estimated cost", ErrValidation, a.Title)
			}
			if a.Budget.ActualCost != nil && a.Budget.ActualCost.IsNegative() {
				return fmt.Errorf("%w: activity %q has a negative actual cost", ErrValidation, a.Title)
			}
		}
	}

	var overlaps []string
	sorted := SortChronologically(activities)
	for i := 0; i < len(sorted); i++ {
		a := sorted[i]
		if a.StartDate == nil || a.EndDate == nil {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			b := sorted[j]
			if b.StartDate == nil {
				break
			}
			if !b.StartDate.Before(*a.EndDate) {
				break
			}
			overlaps = append(overlaps, fmt.Sprintf("%q overlaps %q", a.Title, b.Title))
		}
	}
	if len(overlaps) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(overlaps, "; "))
	}
	return nil
}

// CurrentIndex is the check-in pointer: the first activity in chronological
// order that has not been checked in. It returns -1 when the trip is complete.
// activities must already be sorted.
func CurrentIndex(activities []Activity) int {
	for i, a := range activities {
		if !a.CheckIn {
			return i
		}
	}
	return -1
}

// Progress summarizes how far along the itinerary a trip is.
type Progress struct {
	CheckedIn       int    `json:"checked_in"`
	Total           int    `json:"total"`
	CurrentIndex    int    `json:"current_index"`
	NextDestination string `json:"next_destination"`
}

// ProgressOf computes the progress summary for a trip whose activities are sorted.
func ProgressOf(t Trip) Progress {
	p := Progress{Total: len(t.Activities), CurrentIndex: CurrentIndex(t.Activities)}
	for _, a := range t.Activities {
		if a.CheckIn {
			p.CheckedIn++
		}
	}
	p.NextDestination = NextDestination(t.Activities, p.CurrentIndex)
	return p
}

// NextDestination returns the title to route to for the given pointer.
// A pointer past the end, or one that lands on an already checked-in activity,
// means there is nothing left to route to.
func NextDestination(activities []Activity, pointer int) string {
	if pointer < 0 || pointer >= len(activities) || activities[pointer].CheckIn {
		return TripCompleted
	}
	return activities[pointer].Title
}
