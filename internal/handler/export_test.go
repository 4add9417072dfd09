package handler_test

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/handler"
)

// exportRowFixture returns a fully-populated domain.ExportRow for testing.
func exportRowFixture() domain.ExportRow {
	startsAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	endsAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	return domain.ExportRow{
		TripID:        "trip-1",
		TripName:      "Korea",
		Destination:   "Seoul",
		TripStartDate: "2025-06-01",
		TripEndDate:   "2025-06-03",
		ActivityTitle: "Gyeongbokgung",
		Location:      "Jongno-gu, Seoul",
		StartsAt:      &startsAt,
		EndsAt:        &endsAt,
		CheckedIn:     true,
		Category:      "sightseeing",
		Estimated:     "90000",
		Actual:        "100000",
		ExpenseID:     "exp-1",
	}
}

func exportOnly(rows []domain.ExportRow, err error) *mockExportServicer {
	return &mockExportServicer{
		export: func(_ context.Context, _, _ string) ([]domain.ExportRow, error) { return rows, err },
	}
}

// ---- GET /trips/{id}/export, JSON -------------------------------------------

func TestGetExport_DefaultJSON(t *testing.T) {
	var gotUser, gotTrip string
	svc := &mockExportServicer{
		export: func(_ context.Context, userID, tripID string) ([]domain.ExportRow, error) {
			gotUser, gotTrip = userID, tripID
			return []domain.ExportRow{exportRowFixture()}, nil
		},
	}

	rec := newTestAPI(t, svc).do(alice, http.MethodGet, "/trips/trip-1/export", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "trip-1", gotTrip)

	rows := decode[[]handler.ExportRowResponse](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Gyeongbokgung", rows[0].ActivityTitle)
	assert.True(t, rows[0].CheckedIn)
	assert.Equal(t, "100000", rows[0].ActualCost)
	assert.Equal(t, "exp-1", rows[0].ExpenseID)
}

func TestGetExport_DefaultJSON_TripWithoutActivities(t *testing.T) {
	row := domain.ExportRow{TripID: "trip-1", TripName: "Empty", TripStartDate: "2025-06-01"}
	rec := newTestAPI(t, exportOnly([]domain.ExportRow{row}, nil)).do(alice, http.MethodGet, "/trips/trip-1/export", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`[{"trip_id":"trip-1","trip_name":"Empty","trip_start_date":"2025-06-01","checked_in":false}]`,
		rec.Body.String())
}

// ---- GET /trips/{id}/export?format=csv ---------------------------------------

func TestGetExport_CSV(t *testing.T) {
	api := newTestAPI(t, exportOnly([]domain.ExportRow{exportRowFixture()}, nil))

	rec := api.do(alice, http.MethodGet, "/trips/trip-1/export?format=csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2, "header plus one row")
	assert.Equal(t, "trip_id", records[0][0])
	assert.Equal(t, "expense_id", records[0][len(records[0])-1])
	assert.Equal(t, []string{
		"trip-1", "Korea", "Seoul", "2025-06-01", "2025-06-03",
		"Gyeongbokgung", "Jongno-gu, Seoul", "2025-06-01T09:00:00Z", "2025-06-01T12:00:00Z",
		"true", "sightseeing", "90000", "100000", "exp-1",
	}, records[1])
}

func TestGetExport_CSV_NilTimes(t *testing.T) {
	row := exportRowFixture()
	row.StartsAt, row.EndsAt = nil, nil
	api := newTestAPI(t, exportOnly([]domain.ExportRow{row}, nil))

	rec := api.do(alice, http.MethodGet, "/trips/trip-1/export?format=csv", nil)

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records[1][7])
	assert.Empty(t, records[1][8])
}

func TestGetExport_422_UnknownFormat(t *testing.T) {
	rec := newTestAPI(t, exportOnly(nil, nil)).do(alice, http.MethodGet, "/trips/trip-1/export?format=xml", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetExport_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("svc: %w", domain.ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("svc: %w", domain.ErrPermission), http.StatusForbidden},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := newTestAPI(t, exportOnly(nil, tc.err)).do(alice, http.MethodGet, "/trips/trip-1/export", nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "disk on fire", "internal errors are not leaked")
		})
	}
}

// ---- GET /trips/{id}/expenses ----------------------------------------------

func TestListExpenses(t *testing.T) {
	svc := &mockExportServicer{
		expenses: func(_ context.Context, _, tripID string) ([]domain.Expense, error) {
			return []domain.Expense{{ID: "exp-1", TripID: tripID, ActivityID: "a1", Amount: decimal.NewFromInt(100000), Category: "sightseeing"}}, nil
		},
	}

	rec := newTestAPI(t, svc).do(alice, http.MethodGet, "/trips/trip-1/expenses", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handler.ExpenseListResponse](t, rec)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "trip-1", resp.Data[0].TripID)
	assert.True(t, decimal.NewFromInt(100000).Equal(resp.Data[0].Amount))
}

// TestExport_EndToEnd runs the real ExportService after a check-in.
func TestExport_EndToEnd(t *testing.T) {
	api := newTestAPI(t, nil)
	stored := api.seed(domain.KindOwned, korea("alice"))
	require.Equal(t, http.StatusOK, api.do(alice, http.MethodPost, "/trips/"+stored.ID+"/select", nil).Code)
	require.Equal(t, http.StatusOK,
		api.do(alice, http.MethodPost, "/selection/check-in", map[string]any{"actual_cost": "100000"}).Code)

	rows := decode[[]handler.ExportRowResponse](t, api.do(alice, http.MethodGet, "/trips/"+stored.ID+"/export", nil))
	require.Len(t, rows, 3)
	assert.Equal(t, "Gyeongbokgung", rows[0].ActivityTitle)
	assert.True(t, rows[0].CheckedIn)
	assert.NotEmpty(t, rows[0].ExpenseID)
	assert.False(t, rows[1].CheckedIn)

	expenses := decode[handler.ExpenseListResponse](t, api.do(alice, http.MethodGet, "/trips/"+stored.ID+"/expenses", nil))
	require.Len(t, expenses.Data, 1)
	assert.Equal(t, rows[0].ExpenseID, expenses.Data[0].ID)

	rec := api.do(bob, http.MethodGet, "/trips/"+stored.ID+"/export", nil)
	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, rec.Code)
}
