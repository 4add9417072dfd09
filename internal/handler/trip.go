package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// TripRequest is the body of POST /trips and PUT /trips/{id}. Check-in state
// and ledger links are not accepted from clients; updates carry them over
// from the stored trip.
type TripRequest struct {
	Name        string              `json:"name"`
	Destination string              `json:"destination,omitempty"`
	StartDate   *openapi_types.Date `json:"start_date,omitempty"`
	EndDate     *openapi_types.Date `json:"end_date,omitempty"`
	Description string              `json:"description,omitempty"`
	Budget      *BudgetRequest      `json:"budget,omitempty"`
	Activities  []ActivityRequest   `json:"activities,omitempty"`
	// Version is the revision the edit was based on; zero overwrites.
	Version int64 `json:"version,omitempty"`
}

// BudgetRequest is a trip-level estimate.
type BudgetRequest struct {
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Currency      string          `json:"currency"`
}

// ActivityRequest is one activity of a TripRequest. An activity without an
// id is new.
type ActivityRequest struct {
	ID          string           `json:"id,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Location    *domain.Location `json:"location,omitempty"`
	StartDate   *time.Time       `json:"start_date,omitempty"`
	EndDate     *time.Time       `json:"end_date,omitempty"`
	Budget      *struct {
		EstimatedCost decimal.Decimal `json:"estimated_cost"`
		Currency      string          `json:"currency"`
		Category      string          `json:"category"`
	} `json:"budget,omitempty"`
}

// TripListResponse is the body of GET /trips. Both partitions are paged with
// the same page and limit.
type TripListResponse struct {
	MyTrips      []domain.TripRecord `json:"my_trips"`
	SharedWithMe []domain.TripRecord `json:"shared_with_me"`
	Pagination   Pagination          `json:"pagination"`
}

// Pagination describes the page returned and the size of each partition.
type Pagination struct {
	Page        int `json:"page"`
	Limit       int `json:"limit"`
	TotalMine   int `json:"total_mine"`
	TotalShared int `json:"total_shared"`
}

// ListTrips handles GET /trips.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	var page, limit *int
	if err := runtime.BindQueryParameter("form", true, false, "page", r.URL.Query(), &page); err != nil {
		requestError(w, "invalid page: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		requestError(w, "invalid limit: "+err.Error())
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}

	params := domain.NewPage(page, limit)
	st := e.State()
	writeJSON(w, http.StatusOK, TripListResponse{
		MyTrips:      domain.Paginate(nonNil(st.MyTrips), params),
		SharedWithMe: domain.Paginate(nonNil(st.SharedWithMe), params),
		Pagination: Pagination{
			Page:        params.Number,
			Limit:       params.Limit,
			TotalMine:   len(st.MyTrips),
			TotalShared: len(st.SharedWithMe),
		},
	})
}

// GetState handles GET /state: the caller's whole engine state, the same
// document the websocket pushes.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.State())
}

// CreateTrip handles POST /trips.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var body TripRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	created, err := e.CreateTrip(r.Context(), requestToTrip("", body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateTrip handles PUT /trips/{id}.
func (s *Server) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	var body TripRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	updated, err := e.UpdateTrip(r.Context(), requestToTrip(chi.URLParam(r, "id"), body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteTrip handles DELETE /trips/{id}.
func (s *Server) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := e.DeleteTrip(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- mapping helpers --------------------------------------------------------

// requestToTrip converts a TripRequest into a domain.Trip, using id as the
// trip id.
func requestToTrip(id string, body TripRequest) domain.Trip {
	t := domain.Trip{
		ID:          id,
		Name:        body.Name,
		Destination: body.Destination,
		Description: body.Description,
		Version:     body.Version,
	}
	if body.StartDate != nil {
		t.StartDate = body.StartDate.Time
	}
	if body.EndDate != nil {
		t.EndDate = body.EndDate.Time
	}
	if body.Budget != nil {
		t.Budget = &domain.Budget{EstimatedCost: body.Budget.EstimatedCost, Currency: body.Budget.Currency}
	}
	for _, a := range body.Activities {
		act := domain.Activity{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			Location:    a.Location,
			StartDate:   a.StartDate,
			EndDate:     a.EndDate,
		}
		if a.Budget != nil {
			act.Budget = &domain.ActivityBudget{
				EstimatedCost: a.Budget.EstimatedCost,
				Currency:      a.Budget.Currency,
				Category:      a.Budget.Category,
			}
		}
		t.Activities = append(t.Activities, act)
	}
	return t
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
