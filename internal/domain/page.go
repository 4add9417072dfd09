package domain

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Page selects a window of a list view. Number is 1-based.
type Page struct {
	Number int
	Limit  int
}

// NewPage reads optional page and limit query values. Missing or
// non-positive values fall back to page 1 of 20; limits above 100 are clamped.
func NewPage(number, limit *int) Page {
	p := Page{Number: 1, Limit: defaultPageLimit}
	if number != nil && *number > 0 {
		p.Number = *number
	}
	if limit != nil && *limit > 0 {
		p.Limit = min(*limit, maxPageLimit)
	}
	return p
}

// Paginate returns the items on page p, or an empty non-nil slice past the end.
// The page bound is checked before multiplying, so any page number is safe.
func Paginate[T any](items []T, p Page) []T {
	if len(items) == 0 || p.Number < 1 || p.Limit < 1 || p.Number-1 > (len(items)-1)/p.Limit {
		return []T{}
	}
	start := (p.Number - 1) * p.Limit
	return items[start:min(start+p.Limit, len(items))]
}
