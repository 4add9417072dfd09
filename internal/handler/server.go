// Package handler implements the HTTP API for the trip sync service.
// All handlers are methods on Server. Methods are split into domain-specific
// files (trip.go, selection.go, invitation.go, export.go, ws.go) but share the
// same Server struct so they can access its dependencies.
//
// Every authenticated request is served by the caller's sync engine, which
// the Sessions dependency creates on first use.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/tripsync"
)

// Sessions hands out per-user sync engines. Defining the interface here (in
// the consumer package) lets tests substitute their own session handling.
type Sessions interface {
	Engine(ctx context.Context, u identity.User) (*tripsync.Engine, error)
	SignOut(uid string)
	Active() int
}

// ExportServicer defines the read-only reporting operations.
type ExportServicer interface {
	Export(ctx context.Context, userID, tripID string) ([]domain.ExportRow, error)
	Expenses(ctx context.Context, userID, tripID string) ([]domain.Expense, error)
}

// Server holds the dependencies shared by every handler.
type Server struct {
	sessions Sessions
	export   ExportServicer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer constructs the Server with all its dependencies. allowedOrigins
// is checked on websocket upgrades the way CORS is on regular requests.
func NewServer(sessions Sessions, export ExportServicer, logger *slog.Logger, allowedOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: sessions,
		export:   export,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Handler returns the API routes. auth guards everything except the health
// check and the OpenAPI document; it must put an identity.User in the
// request context.
func (s *Server) Handler(auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Get("/trips", s.ListTrips)
		r.Post("/trips", s.CreateTrip)
		r.Route("/trips/{id}", func(r chi.Router) {
			r.Put("/", s.UpdateTrip)
			r.Delete("/", s.DeleteTrip)
			r.Post("/select", s.SelectTrip)
			r.Get("/export", s.GetExport)
			r.Get("/expenses", s.ListExpenses)
			r.Post("/activities/{activityID}/expense-sync", s.RetryExpenseSync)
			r.Post("/invitations", s.Invite)
			r.Put("/collaborators/{userID}", s.UpdatePermission)
			r.Delete("/collaborators/{userID}", s.RemoveCollaborator)
		})

		r.Get("/selection", s.GetSelection)
		r.Delete("/selection", s.Deselect)
		r.Post("/selection/check-in", s.CheckIn)

		r.Get("/invitations", s.ListInvitations)
		r.Post("/invitations/{id}/accept", s.AcceptInvitation)
		r.Post("/invitations/{id}/decline", s.DeclineInvitation)

		r.Get("/state", s.GetState)
		r.Post("/session/sign-out", s.SignOut)
		r.Get("/ws", s.Stream)
	})
	return r
}

// engine returns the caller's engine, writing the error response itself when
// it cannot.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*tripsync.Engine, identity.User, bool) {
	u, ok := s.user(w, r)
	if !ok {
		return nil, u, false
	}
	e, err := s.sessions.Engine(r.Context(), u)
	if err != nil {
		s.writeError(w, r, err)
		return nil, u, false
	}
	return e, u, true
}

// user returns the authenticated caller for handlers that do not need an
// engine.
func (s *Server) user(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	u, ok := identity.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, identity.ErrUnauthenticated)
	}
	return u, ok
}
