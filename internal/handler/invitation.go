package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/service"
)

// InviteRequest is the body of POST /trips/{id}/invitations.
type InviteRequest struct {
	Email      string                 `json:"email"`
	Permission domain.PermissionLevel `json:"permission"`
	Message    string                 `json:"message,omitempty"`
}

// PermissionRequest is the body of PUT /trips/{id}/collaborators/{userID}.
type PermissionRequest struct {
	Permission domain.PermissionLevel `json:"permission"`
}

// InvitationListResponse wraps the caller's pending invitations.
type InvitationListResponse struct {
	Data []domain.TripInvitation `json:"data"`
}

// Invite handles POST /trips/{id}/invitations.
func (s *Server) Invite(w http.ResponseWriter, r *http.Request) {
	var body InviteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	inv, err := e.Invite(r.Context(), service.InviteInput{
		TripID:       chi.URLParam(r, "id"),
		InviteeEmail: body.Email,
		Permission:   body.Permission,
		Message:      body.Message,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ListInvitations handles GET /invitations: the invitations addressed to the
// caller that are still pending.
func (s *Server) ListInvitations(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, InvitationListResponse{Data: nonNil(e.State().PendingInvitations)})
}

// AcceptInvitation handles POST /invitations/{id}/accept and returns the trip
// the caller now collaborates on.
func (s *Server) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	rec, err := e.AcceptInvitation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeclineInvitation handles POST /invitations/{id}/decline.
func (s *Server) DeclineInvitation(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := e.DeclineInvitation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePermission handles PUT /trips/{id}/collaborators/{userID}.
func (s *Server) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	var body PermissionRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	rec, err := e.UpdatePermission(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"), body.Permission)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RemoveCollaborator handles DELETE /trips/{id}/collaborators/{userID}.
func (s *Server) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	rec, err := e.RemoveCollaborator(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
