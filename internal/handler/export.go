package handler

// export.go implements GET /trips/{id}/export and GET /trips/{id}/expenses.
// The export is a flat table of one trip's activities with their check-in and
// ledger state. Content negotiation via ?format=csv (CSV) or default (JSON).

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// csvHeaders defines the column names written as the first row of any CSV export.
var csvHeaders = []string{
	"trip_id", "trip_name", "destination", "trip_start_date", "trip_end_date",
	"activity_title", "location", "starts_at", "ends_at",
	"checked_in", "category", "estimated_cost", "actual_cost", "expense_id",
}

// ExportRowResponse is one row of the JSON export. Empty fields are omitted.
type ExportRowResponse struct {
	TripID        string     `json:"trip_id"`
	TripName      string     `json:"trip_name"`
	Destination   string     `json:"destination,omitempty"`
	TripStartDate string     `json:"trip_start_date,omitempty"`
	TripEndDate   string     `json:"trip_end_date,omitempty"`
	ActivityTitle string     `json:"activity_title,omitempty"`
	Location      string     `json:"location,omitempty"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	CheckedIn     bool       `json:"checked_in"`
	Category      string     `json:"category,omitempty"`
	EstimatedCost string     `json:"estimated_cost,omitempty"`
	ActualCost    string     `json:"actual_cost,omitempty"`
	ExpenseID     string     `json:"expense_id,omitempty"`
}

// ExpenseListResponse wraps a trip's ledger entries.
type ExpenseListResponse struct {
	Data []domain.Expense `json:"data"`
}

// GetExport handles GET /trips/{id}/export.
// Use ?format=csv to receive CSV; default is JSON.
func (s *Server) GetExport(w http.ResponseWriter, r *http.Request) {
	var format *string
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &format); err != nil {
		requestError(w, "invalid format: "+err.Error())
		return
	}
	if format != nil && *format != "csv" && *format != "json" {
		requestError(w, "format must be csv or json")
		return
	}
	u, ok := s.user(w, r)
	if !ok {
		return
	}

	rows, err := s.export.Export(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if format != nil && *format == "csv" {
		writeCSV(w, rows)
		return
	}
	out := make([]ExportRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToResponse(row))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListExpenses handles GET /trips/{id}/expenses.
func (s *Server) ListExpenses(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	expenses, err := s.export.Expenses(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpenseListResponse{Data: nonNil(expenses)})
}

// writeCSV encodes domain rows as CSV.
func writeCSV(w http.ResponseWriter, rows []domain.ExportRow) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	//nolint:errcheck // bytes.Buffer.Write never returns an error.
	cw.Write(csvHeaders)
	for _, r := range rows {
		//nolint:errcheck
		cw.Write(rowToCSVRecord(r))
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func rowToResponse(r domain.ExportRow) ExportRowResponse {
	return ExportRowResponse{
		TripID:        r.TripID,
		TripName:      r.TripName,
		Destination:   r.Destination,
		TripStartDate: r.TripStartDate,
		TripEndDate:   r.TripEndDate,
		ActivityTitle: r.ActivityTitle,
		Location:      r.Location,
		StartsAt:      r.StartsAt,
		EndsAt:        r.EndsAt,
		CheckedIn:     r.CheckedIn,
		Category:      r.Category,
		EstimatedCost: r.Estimated,
		ActualCost:    r.Actual,
		ExpenseID:     r.ExpenseID,
	}
}

// rowToCSVRecord encodes a domain.ExportRow as a flat string slice.
// Nil time pointers are encoded as empty strings.
func rowToCSVRecord(r domain.ExportRow) []string {
	return []string{
		r.TripID,
		r.TripName,
		r.Destination,
		r.TripStartDate,
		r.TripEndDate,
		r.ActivityTitle,
		r.Location,
		formatOptionalTime(r.StartsAt),
		formatOptionalTime(r.EndsAt),
		strconv.FormatBool(r.CheckedIn),
		r.Category,
		r.Estimated,
		r.Actual,
		r.ExpenseID,
	}
}

// formatOptionalTime returns the RFC3339 representation of t, or "" if t is nil.
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
