package handler

import "net/http"

// SignOut handles POST /session/sign-out. The caller's engine releases its
// subscriptions and its state is discarded; the next request starts afresh.
func (s *Server) SignOut(w http.ResponseWriter, r *http.Request) {
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	s.sessions.SignOut(u.ID)
	w.WriteHeader(http.StatusNoContent)
}
