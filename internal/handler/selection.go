package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/service"
)

var noSelection = fmt.Errorf("%w: no trip selected", domain.ErrNotFound)

// SelectionResponse is the selected trip and where its itinerary stands.
type SelectionResponse struct {
	Trip     domain.TripRecord `json:"trip"`
	Progress domain.Progress   `json:"progress"`
}

// CheckInRequest is the body of POST /selection/check-in. actual_cost may be
// omitted (or zero) only with confirm_zero set.
type CheckInRequest struct {
	ActualCost  *decimal.Decimal `json:"actual_cost,omitempty"`
	ConfirmZero bool             `json:"confirm_zero,omitempty"`
}

// SelectTrip handles POST /trips/{id}/select. The engine keeps the trip
// current until another is selected.
func (s *Server) SelectTrip(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	rec, err := e.SelectTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SelectionResponse{Trip: rec, Progress: domain.ProgressOf(rec.Trip)})
}

// GetSelection handles GET /selection.
func (s *Server) GetSelection(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	st := e.State()
	if st.Selected == nil {
		s.writeError(w, r, noSelection)
		return
	}
	resp := SelectionResponse{Trip: *st.Selected}
	if st.Progress != nil {
		resp.Progress = *st.Progress
	} else {
		resp.Progress = domain.ProgressOf(st.Selected.Trip)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Deselect handles DELETE /selection.
func (s *Server) Deselect(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	e.Deselect()
	w.WriteHeader(http.StatusNoContent)
}

// CheckIn handles POST /selection/check-in: it checks in the current activity
// of the selected trip. A ledger failure still returns 200 with
// expense_synced false.
func (s *Server) CheckIn(w http.ResponseWriter, r *http.Request) {
	var body CheckInRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	out, err := e.CheckInCurrentActivity(r.Context(), service.CheckInInput{
		ActualCost:  body.ActualCost,
		ConfirmZero: body.ConfirmZero,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RetryExpenseSync handles POST /trips/{id}/activities/{activityID}/expense-sync.
func (s *Server) RetryExpenseSync(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	out, err := e.RetryExpenseSync(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "activityID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
