package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// trip, activity, or invitation does not exist in the store.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails business rule validation
// (e.g. missing name, end date before start date, negative cost).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrPermission is returned when the caller's role on a trip does not allow
// the attempted operation. The check happens before any write is attempted.
// Handlers should map this to HTTP 403.
var ErrPermission = errors.New("permission denied")

// ErrConfirmationRequired is returned by check-in when the actual cost is zero
// or missing and the caller has not explicitly confirmed a zero-cost visit.
// Handlers should map this to HTTP 428.
var ErrConfirmationRequired = errors.New("confirmation required")

// ErrConflict is returned when a whole-document write was based on a stale
// version of the trip. Callers should refetch and retry.
// Handlers should map this to HTTP 409.
var ErrConflict = errors.New("version conflict")

// ErrNotInitialized is returned by engine operations invoked before a user
// has signed in.
var ErrNotInitialized = errors.New("not initialized")
