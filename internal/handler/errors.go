package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/session"
	"github.com/pkordes/tripsync/backend/internal/tripsync"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorMapping ties a sentinel to its status and code. Order matters only
// for errors that wrap more than one sentinel.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{identity.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrPermission, http.StatusForbidden, "forbidden"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrConfirmationRequired, http.StatusPreconditionRequired, "confirmation_required"},
	{domain.ErrNotInitialized, http.StatusServiceUnavailable, "not_ready"},
	{tripsync.ErrClosed, http.StatusServiceUnavailable, "not_ready"},
	{tripsync.ErrSuperseded, http.StatusServiceUnavailable, "not_ready"},
	{session.ErrClosed, http.StatusServiceUnavailable, "not_ready"},
}

// writeError maps err onto a status code and an ErrorResponse. Unrecognized
// errors are logged and reported as 500 without their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, ErrorResponse{Error: ErrorDetail{Code: m.code, Message: unwrapMessage(err, m.err)}})
			return
		}
	}
	s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{Code: "internal", Message: "internal server error"}})
}

// requestError reports a request rejected before reaching an engine (e.g.
// missing or malformed body).
func requestError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{Code: "validation_error", Message: message}})
}

// unwrapMessage extracts the human-readable part from a wrapped sentinel error.
// e.g. "tripsync.Engine.CreateTrip: service.TripService.Create: validation error: name is required"
// → "name is required". An error that is only the sentinel yields its text.
func unwrapMessage(err, sentinel error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	marker := sentinel.Error()
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return msg
	}
	rest := strings.TrimPrefix(msg[i+len(marker):], ": ")
	if rest == "" {
		return marker
	}
	return rest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v, writing a 422 (or 413 when the
// body exceeded the size limit) on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		requestError(w, "request body is required")
		return false
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: ErrorDetail{Code: "too_large", Message: "request body too large"}})
			return false
		}
		requestError(w, "malformed request body: "+err.Error())
		return false
	}
	return true
}
