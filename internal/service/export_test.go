package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/service"
)

// ---- Export ----------------------------------------------------------------

func TestExportService_Export_OneRowPerActivity(t *testing.T) {
	rec := tripFixture("u1")
	rec.Activities[0], rec.Activities[2] = rec.Activities[2], rec.Activities[0]
	rec.Activities[2].CheckIn = true
	rec.Activities[2].Budget.ActualCost = money(100000)
	rec.Activities[2].ExpenseInfo = &domain.ExpenseInfo{ExpenseID: "exp-1", ExpenseSynced: true}

	svc := service.NewExportService(&mockTripRepo{locate: locating(rec)}, &mockExpenseRepo{})

	rows, err := svc.Export(context.Background(), "u1", rec.ID)

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Gyeongbokgung", rows[0].ActivityTitle, "rows follow chronological order")
	assert.True(t, rows[0].CheckedIn)
	assert.Equal(t, "100000", rows[0].Actual)
	assert.Equal(t, "90000", rows[0].Estimated)
	assert.Equal(t, "exp-1", rows[0].ExpenseID)
	assert.Equal(t, "other", rows[1].Category)
	for _, r := range rows {
		assert.Equal(t, "Korea", r.TripName)
		assert.Equal(t, "2025-06-01", r.TripStartDate)
	}
}

func TestExportService_Export_NoActivities(t *testing.T) {
	rec := tripFixture("u1")
	rec.Activities = nil
	svc := service.NewExportService(&mockTripRepo{locate: locating(rec)}, &mockExpenseRepo{})

	rows, err := svc.Export(context.Background(), "u1", rec.ID)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].ActivityTitle)
}

func TestExportService_Export_NotVisible(t *testing.T) {
	rec := sharedFixture("u1", nil)
	svc := service.NewExportService(&mockTripRepo{locate: locating(rec)}, &mockExpenseRepo{})

	_, err := svc.Export(context.Background(), "u2", rec.ID)

	assert.ErrorIs(t, err, domain.ErrPermission)
}

// ---- Expenses --------------------------------------------------------------

func TestExportService_Expenses(t *testing.T) {
	rec := sharedFixture("u1", map[string]domain.PermissionLevel{"u2": domain.PermissionViewer})
	ledger := &mockExpenseRepo{listByTrip: func(_ context.Context, tripID string) ([]domain.Expense, error) {
		return []domain.Expense{{ID: "exp-1", TripID: tripID, Amount: decimal.NewFromInt(5)}}, nil
	}}
	svc := service.NewExportService(&mockTripRepo{locate: locating(rec)}, ledger)

	got, err := svc.Expenses(context.Background(), "u2", rec.ID)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].TripID)
}
