package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

func day(d int) *time.Time {
	t := time.Date(2025, 6, d, 9, 0, 0, 0, time.UTC)
	return &t
}

func titles(as []domain.Activity) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Title
	}
	return out
}

func TestSortChronologically_OrdersByStartDate(t *testing.T) {
	in := []domain.Activity{
		{ID: "3", Title: "c", StartDate: day(3)},
		{ID: "1", Title: "a", StartDate: day(1)},
		{ID: "2", Title: "b", StartDate: day(2)},
	}

	got := domain.SortChronologically(in)

	assert.Equal(t, []string{"a", "b", "c"}, titles(got))
	assert.Equal(t, "c", in[0].Title, "input must not be modified")
}

func TestSortChronologically_UndatedLastAndStable(t *testing.T) {
	in := []domain.Activity{
		{Title: "n1"},
		{Title: "d2", StartDate: day(2)},
		{Title: "n2"},
		{Title: "d1", StartDate: day(1)},
		{Title: "n3"},
	}

	got := domain.SortChronologically(in)

	assert.Equal(t, []string{"d1", "d2", "n1", "n2", "n3"}, titles(got))
}

func TestSortChronologically_Idempotent(t *testing.T) {
	inputs := [][]domain.Activity{
		nil,
		{},
		{{Title: "x"}},
		{{Title: "b", StartDate: day(5)}, {Title: "u"}, {Title: "a", StartDate: day(1)}, {Title: "a2", StartDate: day(1)}},
	}
	for _, in := range inputs {
		once := domain.SortChronologically(in)
		twice := domain.SortChronologically(once)
		assert.Equal(t, once, twice)
	}
}

func TestSortChronologically_EqualStartsKeepOrder(t *testing.T) {
	in := []domain.Activity{
		{Title: "first", StartDate: day(1)},
		{Title: "second", StartDate: day(1)},
	}

	assert.Equal(t, []string{"first", "second"}, titles(domain.SortChronologically(in)))
}

func TestValidateSchedule_OK(t *testing.T) {
	in := []domain.Activity{
		{Title: "a", StartDate: day(1), EndDate: day(2)},
		{Title: "b", StartDate: day(2), EndDate: day(3)}, // touches but does not overlap
		{Title: "c"},
	}

	require.NoError(t, domain.ValidateSchedule(in))
}

func TestValidateSchedule_Overlap(t *testing.T) {
	in := []domain.Activity{
		{Title: "a", StartDate: day(1), EndDate: day(3)},
		{Title: "b", StartDate: day(2), EndDate: day(4)},
	}

	err := domain.ValidateSchedule(in)

	require.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorContains(t, err, `"a" overlaps "b"`)
}

func TestValidateSchedule_EndBeforeStart(t *testing.T) {
	in := []domain.Activity{{Title: "a", StartDate: day(3), EndDate: day(1)}}

	assert.ErrorIs(t, domain.ValidateSchedule(in), domain.ErrValidation)
}

func TestProgressOf(t *testing.T) {
	trip := domain.Trip{Activities: []domain.Activity{
		{Title: "a", StartDate: day(1), CheckIn: true},
		{Title: "b", StartDate: day(2)},
		{Title: "c", StartDate: day(3)},
	}}

	p := domain.ProgressOf(trip)

	assert.Equal(t, 1, p.CheckedIn)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.CurrentIndex)
	assert.Equal(t, "b", p.NextDestination)
}

func TestNextDestination_Completed(t *testing.T) {
	as := []domain.Activity{{Title: "a", CheckIn: true}, {Title: "b", CheckIn: true}}

	assert.Equal(t, domain.TripCompleted, domain.NextDestination(as, -1))
	assert.Equal(t, domain.TripCompleted, domain.NextDestination(as, 2))
	assert.Equal(t, domain.TripCompleted, domain.NextDestination(as, 1), "pointer on a checked-in node means completed")
}
